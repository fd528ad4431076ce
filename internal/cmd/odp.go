package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/odatalink/odatalink/internal/config"
	"github.com/odatalink/odatalink/internal/logging"
	"github.com/odatalink/odatalink/internal/odp"
)

// The Do* entry points share one request id across every page of a run and
// exit non-zero on failure.

// DoODPInitialLoad extracts every page of entityURL, opening a delta
// subscription, and prints the delta token to resume from.
func DoODPInitialLoad(cfg *config.Config, entityURL string) {
	ctx, _ := logging.EnsureRequestID(context.Background())
	failIf("ODP request failed", runODP(ctx, cfg, odp.RequestInitialLoad, entityURL, "", os.Stdout))
}

// DoODPDeltaFetch extracts the changes since deltaToken and prints the next token.
func DoODPDeltaFetch(cfg *config.Config, entityURL, deltaToken string) {
	ctx, _ := logging.EnsureRequestID(context.Background())
	failIf("ODP request failed", runODP(ctx, cfg, odp.RequestDeltaFetch, entityURL, deltaToken, os.Stdout))
}

// DoODPTerminate ends delta tracking for entityURL's entity set.
func DoODPTerminate(cfg *config.Config, entityURL string) {
	ctx, _ := logging.EnsureRequestID(context.Background())
	failIf("ODP request failed", runODP(ctx, cfg, odp.RequestTermination, entityURL, "", os.Stdout))
}

// DoODPDiscover prints the delta links the service holds for entityURL's entity set.
func DoODPDiscover(cfg *config.Config, entityURL string) {
	ctx, _ := logging.EnsureRequestID(context.Background())
	failIf("ODP request failed", runODP(ctx, cfg, odp.RequestDiscovery, entityURL, "", os.Stdout))
}

func runODP(ctx context.Context, cfg *config.Config, kind odp.RequestType, entityURL, deltaToken string, out io.Writer) error {
	orchestrator, err := newOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}

	var first *odp.OdpRequestResult
	switch kind {
	case odp.RequestInitialLoad:
		first, err = orchestrator.ExecuteInitialLoad(ctx, entityURL)
	case odp.RequestDeltaFetch:
		first, err = orchestrator.ExecuteDeltaFetch(ctx, entityURL, deltaToken)
	case odp.RequestTermination:
		first, err = orchestrator.ExecuteTermination(ctx, entityURL)
	case odp.RequestDiscovery:
		first, err = orchestrator.ExecuteDiscovery(ctx, entityURL)
	default:
		return fmt.Errorf("unsupported ODP operation %s", kind)
	}
	if err != nil {
		return err
	}

	if kind == odp.RequestTermination || kind == odp.RequestDiscovery {
		payload, errNorm := odp.NormalizePayload(first.Payload)
		if errNorm != nil {
			payload = first.Payload
		}
		_, _ = fmt.Fprintf(out, "%s: HTTP %d\n", kind, first.StatusCode)
		if len(payload) > 0 {
			_, _ = fmt.Fprintln(out, string(payload))
		}
		return nil
	}

	pages, records, bytes := 0, 0, 0
	last, err := orchestrator.ExecuteAllPages(ctx, first, func(page *odp.OdpRequestResult) error {
		pages++
		records += odp.CountRecords(page.Payload)
		bytes += page.ResponseSizeBytes
		return nil
	})
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "%s: %d records in %d page(s), %d bytes\n", kind, records, pages, bytes)
	if kind == odp.RequestInitialLoad && !first.PreferenceApplied {
		_, _ = fmt.Fprintln(out, "warning: service did not confirm odata.track-changes; deltas may be unavailable")
	}
	if last.DeltaToken != "" {
		_, _ = fmt.Fprintf(out, "delta token: %s\n", last.DeltaToken)
	} else {
		_, _ = fmt.Fprintln(out, "no delta token returned")
	}
	return nil
}
