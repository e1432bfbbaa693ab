package fetch

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"vadash/internal/dashboard"
	"vadash/internal/feed"
	"vadash/internal/metrics"
	"vadash/internal/storage/sqlite"
)

// RefreshResult tracks one feed refresh.
type RefreshResult struct {
	RunID    string
	Source   string
	Records  int
	Uncoded  int
	Active   int
	Stale    bool
	Duration time.Duration
	Errors   []string
}

// Refresher pulls the feed, hands it to the controller and persists it. DB
// and Metrics may be nil.
type Refresher struct {
	Fetcher    feed.Fetcher
	Controller *dashboard.Controller
	DB         *sql.DB
	Metrics    *metrics.Metrics
	Logger     *zap.SugaredLogger
}

// Refresh runs one fetch. On any error the controller and database keep
// their previous dataset. A fetch superseded by a newer one is dropped and
// reported with Stale set and a nil error.
func (r *Refresher) Refresh(ctx context.Context) (RefreshResult, error) {
	start := time.Now()
	result := RefreshResult{RunID: uuid.NewString(), Source: r.Fetcher.Source()}
	logger := r.logger()

	ctx, span := otel.Tracer("vadash/fetch").Start(ctx, "fetch.Refresh")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", result.RunID), attribute.String("source", result.Source))

	ticket, fetchCtx := r.Controller.BeginFetch(ctx)
	ds, err := feed.Load(fetchCtx, r.Fetcher)
	if err != nil {
		if !r.Controller.AbortFetch(ticket) {
			return r.stale(span, result, start), nil
		}
		result.Duration = time.Since(start)
		result.Errors = append(result.Errors, err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		logger.Errorf("refresh failed run=%s source=%s err=%v", result.RunID, result.Source, err)
		r.finish(result, sqlite.RunError, start)
		return result, fmt.Errorf("refreshing feed: %w", err)
	}
	result.Records = len(ds.Valid)
	result.Uncoded = ds.Uncoded

	if !r.Controller.CompleteFetch(ticket, ds) {
		return r.stale(span, result, start), nil
	}
	result.Active = r.Controller.Snapshot().ActiveVAs

	if r.DB != nil {
		if err := sqlite.ReplaceDataset(r.DB, ds, result.Source, time.Now().UTC()); err != nil {
			span.RecordError(err)
			logger.Errorf("refresh persist failed run=%s err=%v", result.RunID, err)
			result.Errors = append(result.Errors, fmt.Sprintf("persist: %v", err))
		}
	}

	result.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("records", result.Records), attribute.Int("uncoded", result.Uncoded))
	logger.Infof("refresh complete run=%s source=%s records=%d uncoded=%d active=%d duration=%s",
		result.RunID, result.Source, result.Records, result.Uncoded, result.Active, result.Duration.Round(time.Millisecond))
	r.finish(result, sqlite.RunOK, start)
	return result, nil
}

// stale records a run that a newer fetch superseded, whether it was
// cancelled mid-flight or finished after the newer one began.
func (r *Refresher) stale(span trace.Span, result RefreshResult, start time.Time) RefreshResult {
	result.Stale = true
	result.Duration = time.Since(start)
	span.SetAttributes(attribute.Bool("stale", true))
	r.logger().Infof("refresh superseded run=%s source=%s", result.RunID, result.Source)
	r.finish(result, sqlite.RunStale, start)
	return result
}

func (r *Refresher) finish(result RefreshResult, status string, start time.Time) {
	if r.Metrics != nil {
		r.Metrics.ObserveRefresh(status, start)
	}
	if r.DB == nil {
		return
	}
	run := sqlite.FetchRun{
		ID:         result.RunID,
		Source:     result.Source,
		Status:     status,
		Records:    result.Records,
		Uncoded:    result.Uncoded,
		Error:      strings.Join(result.Errors, "; "),
		StartedAt:  start.UTC(),
		FinishedAt: time.Now().UTC(),
	}
	if err := sqlite.RecordFetchRun(r.DB, run); err != nil {
		r.logger().Errorf("refresh run record failed run=%s err=%v", result.RunID, err)
	}
}

func (r *Refresher) logger() *zap.SugaredLogger {
	if r.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return r.Logger
}

// Restore loads the last persisted dataset into the controller so the
// dashboard serves data before the first refresh. It reports whether
// anything was stored.
func Restore(db *sql.DB, c *dashboard.Controller) (bool, error) {
	ds, ok, err := sqlite.LoadDataset(db)
	if err != nil {
		return false, fmt.Errorf("loading stored dataset: %w", err)
	}
	if !ok {
		return false, nil
	}
	c.Load(ds)
	return true, nil
}

// FormatRefreshSummary returns a human-readable summary of a RefreshResult.
func FormatRefreshSummary(result RefreshResult) string {
	if result.Stale {
		return fmt.Sprintf("Refresh from %s was superseded by a newer fetch; result dropped.", result.Source)
	}
	if len(result.Errors) > 0 && result.Records == 0 && result.Uncoded == 0 {
		return fmt.Sprintf("Error refreshing VA feed from %s:\n%s\nShowing previously loaded data.",
			result.Source, strings.Join(result.Errors, "\n"))
	}

	msg := fmt.Sprintf("Refreshed VA feed from %s: %d coded VAs, %d uncoded", result.Source, result.Records, result.Uncoded)
	if result.Active != result.Records {
		msg += fmt.Sprintf(" (%d match current filters)", result.Active)
	}
	msg += "."
	if len(result.Errors) > 0 {
		msg += fmt.Sprintf("\nWarnings:\n%s", strings.Join(result.Errors, "\n"))
	}
	return msg
}
