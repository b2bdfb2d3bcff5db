package labeler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/arborlabs/sigil/catalog"
	"github.com/arborlabs/sigil/dedup"
	"github.com/arborlabs/sigil/jetstream"
)

const (
	likeCollection = "app.bsky.feed.like"
	postCollection = "app.bsky.feed.post"
)

// Engine decides, for each incoming event, whether it is a like on one of
// the authority account's marker posts, and if so applies the matching
// label to the liking account.
type Engine struct {
	logger       *slog.Logger
	authorityDID syntax.DID
	catalog      *catalog.Catalog
	seen         *dedup.Cache
	labels       LabelService
}

func NewEngine(logger *slog.Logger, authorityDID syntax.DID, cat *catalog.Catalog, seen *dedup.Cache, labels LabelService) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:       logger.With("component", "engine"),
		authorityDID: authorityDID,
		catalog:      cat,
		seen:         seen,
		labels:       labels,
	}
}

// HandleEvent runs the decision pipeline for one event. Events that are
// not relevant (wrong collection, wrong subject, unknown trigger key,
// duplicate delivery) return nil; only label-application failures and
// invalid catalog state return an error.
func (e *Engine) HandleEvent(ctx context.Context, evt *jetstream.Event) error {
	if evt.Kind != jetstream.EvtKindCommit || evt.Commit == nil {
		return nil
	}
	commit := evt.Commit
	if commit.Collection != likeCollection {
		return nil
	}
	if commit.Operation != jetstream.CommitOpCreate {
		return nil
	}

	if evt.Did == "" || commit.Rev == "" {
		eventsProcessed.WithLabelValues("invalid").Inc()
		e.logger.Warn("dropping like event with missing identity fields", "did", evt.Did, "rev", commit.Rev)
		return nil
	}

	// Duplicate deliveries are filtered on actor plus revision, before any
	// other work, so a replayed window cannot double-apply labels.
	id := dedup.EventID(evt.Did, commit.Rev)
	if e.seen.Seen(id) {
		eventsProcessed.WithLabelValues("duplicate").Inc()
		return nil
	}
	e.seen.Record(id)

	actor, err := syntax.ParseDID(evt.Did)
	if err != nil {
		eventsProcessed.WithLabelValues("invalid").Inc()
		e.logger.Warn("dropping like event with malformed actor DID", "did", evt.Did, "err", err)
		return nil
	}

	like, err := jetstream.ParseLikeRecord(commit.Record)
	if err != nil {
		eventsProcessed.WithLabelValues("invalid").Inc()
		e.logger.Warn("dropping malformed like record", "did", actor, "rkey", commit.RKey, "err", err)
		return nil
	}
	if like.Subject.URI == "" {
		eventsProcessed.WithLabelValues("invalid").Inc()
		e.logger.Warn("dropping like record without subject", "did", actor, "rkey", commit.RKey)
		return nil
	}

	subject, err := syntax.ParseATURI(like.Subject.URI)
	if err != nil {
		eventsProcessed.WithLabelValues("invalid").Inc()
		e.logger.Warn("dropping like with malformed subject URI", "did", actor, "uri", like.Subject.URI, "err", err)
		return nil
	}

	// Only likes on the authority account's own posts are of interest.
	if subject.Authority().String() != e.authorityDID.String() {
		eventsProcessed.WithLabelValues("ignored").Inc()
		return nil
	}
	if subject.Collection().String() != postCollection {
		eventsProcessed.WithLabelValues("ignored").Inc()
		return nil
	}

	// The authority liking its own marker post must not label itself.
	if actor.String() == e.authorityDID.String() {
		eventsProcessed.WithLabelValues("self").Inc()
		e.logger.Debug("ignoring self-like on marker post", "rkey", subject.RecordKey())
		return nil
	}

	triggerKey := subject.RecordKey().String()
	if len(triggerKey) != catalog.TriggerKeyLength {
		eventsProcessed.WithLabelValues("invalid").Inc()
		e.logger.Warn("dropping like with unexpected record key length", "did", actor, "rkey", triggerKey)
		return nil
	}

	def := e.catalog.Match(triggerKey)
	if def == nil {
		eventsProcessed.WithLabelValues("unmatched").Inc()
		e.logger.Debug("like on authority post with no catalog entry", "did", actor, "rkey", triggerKey)
		return nil
	}

	if _, err := catalog.ParseCategory(string(def.Category)); err != nil {
		eventsProcessed.WithLabelValues("error").Inc()
		return fmt.Errorf("catalog entry %s: %w", def.TriggerKey, err)
	}

	if err := e.labels.ApplyLabel(ctx, actor.String(), def.Identifier); err != nil {
		eventsProcessed.WithLabelValues("error").Inc()
		labelFailures.Inc()
		e.logger.Error("failed to apply label", "did", actor, "label", def.Identifier, "err", err)
		return fmt.Errorf("applying label %q to %s: %w", def.Identifier, actor, err)
	}

	eventsProcessed.WithLabelValues("applied").Inc()
	labelsApplied.WithLabelValues(string(def.Category)).Inc()
	e.logger.Info("applied label", "did", actor, "label", def.Identifier, "category", def.Category, "rkey", triggerKey)
	return nil
}
