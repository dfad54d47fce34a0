package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/emiliopalmerini/abassign/internal/domain"
	"github.com/emiliopalmerini/abassign/internal/experiment"
	"github.com/emiliopalmerini/abassign/internal/util"
)

// parseVariantSpec parses NAME=MODEL:ALLOCATION. The allocation follows the
// last colon so model references may contain colons themselves.
func parseVariantSpec(spec string) (experiment.VariantInput, error) {
	name, rest, ok := strings.Cut(spec, "=")
	if !ok {
		return experiment.VariantInput{}, fmt.Errorf("invalid variant %q: expected NAME=MODEL:ALLOCATION", spec)
	}
	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return experiment.VariantInput{}, fmt.Errorf("invalid variant %q: expected NAME=MODEL:ALLOCATION", spec)
	}
	alloc, err := strconv.ParseFloat(rest[i+1:], 64)
	if err != nil {
		return experiment.VariantInput{}, fmt.Errorf("invalid allocation in variant %q: %w", spec, err)
	}
	return experiment.VariantInput{
		Name:              strings.TrimSpace(name),
		ModelReference:    strings.TrimSpace(rest[:i]),
		TrafficAllocation: alloc,
	}, nil
}

// findVariant resolves ref as a variant ID first, then as a name.
func findVariant(exp *domain.Experiment, ref string) (*domain.Variant, error) {
	if v := exp.Variant(ref); v != nil {
		return v, nil
	}
	if v := exp.VariantByName(ref); v != nil {
		return v, nil
	}
	return nil, fmt.Errorf("variant %q of experiment %s: %w", ref, exp.Name, domain.ErrNotFound)
}

func printExperiment(out io.Writer, exp *domain.Experiment) {
	fmt.Fprintf(out, "Experiment: %s\n", exp.Name)
	fmt.Fprintf(out, "ID:         %s\n", exp.ID)
	fmt.Fprintf(out, "Status:     %s\n", exp.Status)
	fmt.Fprintf(out, "Strategy:   %s\n", exp.Strategy)
	if exp.Description != nil {
		fmt.Fprintf(out, "Description: %s\n", *exp.Description)
	}
	fmt.Fprintf(out, "Created:    %s\n", util.FormatDateTime(&exp.CreatedAt))
	fmt.Fprintf(out, "Activated:  %s\n", util.FormatDateTime(exp.ActivatedAt))
	fmt.Fprintf(out, "Completed:  %s\n", util.FormatDateTime(exp.CompletedAt))
	if exp.StopReason != nil {
		fmt.Fprintf(out, "Stop reason: %s\n", *exp.StopReason)
	}
	fmt.Fprintln(out)

	if len(exp.Variants) == 0 {
		fmt.Fprintln(out, "No variants")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tNAME\tMODEL\tALLOCATION\tID")
	fmt.Fprintln(w, "---\t----\t-----\t----------\t--")
	for _, v := range exp.OrderedVariants() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.4g%%\t%s\n", v.Position, v.Name, v.ModelReference, v.TrafficAllocation, v.ID)
	}
	fmt.Fprintf(w, "\tTOTAL\t\t%.4g%%\t\n", exp.AllocationTotal())
	w.Flush()
}
