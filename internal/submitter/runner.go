package submitter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/metawebart/formwatch/internal/catalog"
)

// Job is one form submission with the values to type.
type Job struct {
	Form    catalog.Form
	Contact catalog.Contact
	Phone   string
}

// Result is the per-form (success, message) outcome.
type Result struct {
	Site         string
	Form         string
	Success      bool
	Message      string
	FieldsFilled []string
	Page         PageInfo
}

func (r Result) fail(log *slog.Logger, msg string) Result {
	r.Success = false
	r.Message = msg
	log.Error("form submission failed", "error", msg)
	return r
}

// Driver submits a single form. *Browser is the production implementation.
type Driver interface {
	Submit(ctx context.Context, job Job) Result
}

// Run submits every catalog form that has a target, sequentially on one
// driver. A failed form does not stop the run; cancellation does.
func Run(ctx context.Context, d Driver, c *catalog.Catalog, log *slog.Logger) []Result {
	var results []Result
	for _, f := range c.Targets() {
		if ctx.Err() != nil {
			log.Warn("submission run interrupted", "remaining_from", f.Name)
			break
		}
		log.Info("processing form", "site", f.Site, "form", f.Name)
		r := d.Submit(ctx, NewJob(c, f))
		log.Info("form result", "form", f.Name, "success", r.Success, "message", r.Message)
		results = append(results, r)
	}
	return results
}

// RunForm submits only the catalog form called name.
func RunForm(ctx context.Context, d Driver, c *catalog.Catalog, name string, log *slog.Logger) (Result, error) {
	f := c.FindForm(name)
	if f == nil {
		return Result{}, fmt.Errorf("no form %q in catalog", name)
	}
	if f.Target.URL == "" {
		return Result{}, fmt.Errorf("form %q has no submission target", f.Name)
	}
	log.Info("processing form", "site", f.Site, "form", f.Name)
	r := d.Submit(ctx, NewJob(c, *f))
	log.Info("form result", "form", f.Name, "success", r.Success, "message", r.Message)
	return r, nil
}

// Succeeded counts successful submissions.
func Succeeded(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}
