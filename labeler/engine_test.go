package labeler

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborlabs/sigil/catalog"
	"github.com/arborlabs/sigil/dedup"
	"github.com/arborlabs/sigil/jetstream"
)

const testAuthority = "did:plc:authority0000000000000000"

type appliedLabel struct {
	did string
	val string
}

type fakeLabelService struct {
	applied []appliedLabel
	err     error
}

func (f *fakeLabelService) ApplyLabel(ctx context.Context, subjectDID string, labelVal string) error {
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, appliedLabel{did: subjectDID, val: labelVal})
	return nil
}

func testEngine(t *testing.T, svc LabelService) *Engine {
	t.Helper()
	cat, err := catalog.NewCatalog([]catalog.LabelDefinition{
		{
			TriggerKey: "3jzfcijpj2z2a",
			Identifier: "pvp",
			Category:   catalog.CategoryPVP,
			Locales:    []catalog.Locale{{Lang: "en", Name: "PvP", Description: "Open to player-versus-player"}},
		},
		{
			TriggerKey: "3k2akposts2ab",
			Identifier: "rp-heavy",
			Category:   catalog.CategoryRP,
			Locales:    []catalog.Locale{{Lang: "en", Name: "RP", Description: "Roleplay focused"}},
		},
	})
	require.NoError(t, err)

	authority, err := syntax.ParseDID(testAuthority)
	require.NoError(t, err)

	return NewEngine(slog.Default(), authority, cat, dedup.NewCache(time.Hour, time.Hour), svc)
}

func likeEvent(actor, rev, subjectURI string) *jetstream.Event {
	record := fmt.Sprintf(`{"$type":"app.bsky.feed.like","createdAt":"2024-05-01T12:00:00Z","subject":{"cid":"bafyreib2rxk3rh6kzwq","uri":%q}}`, subjectURI)
	return &jetstream.Event{
		Did:    actor,
		TimeUS: 1714565000000000,
		Kind:   jetstream.EvtKindCommit,
		Commit: &jetstream.Commit{
			Rev:        rev,
			Operation:  jetstream.CommitOpCreate,
			Collection: "app.bsky.feed.like",
			RKey:       "3k2aaaaaaaaaa",
			Record:     []byte(record),
		},
	}
}

func markerURI(rkey string) string {
	return fmt.Sprintf("at://%s/app.bsky.feed.post/%s", testAuthority, rkey)
}

func TestEngineAppliesLabel(t *testing.T) {
	svc := &fakeLabelService{}
	eng := testEngine(t, svc)
	ctx := context.Background()

	evt := likeEvent("did:plc:user1", "aaa", markerURI("3jzfcijpj2z2a"))
	require.NoError(t, eng.HandleEvent(ctx, evt))

	require.Len(t, svc.applied, 1)
	assert.Equal(t, "did:plc:user1", svc.applied[0].did)
	assert.Equal(t, "pvp", svc.applied[0].val)
}

func TestEngineDuplicateDeliveryAppliesOnce(t *testing.T) {
	svc := &fakeLabelService{}
	eng := testEngine(t, svc)
	ctx := context.Background()

	evt := likeEvent("did:plc:user1", "aaa", markerURI("3jzfcijpj2z2a"))
	require.NoError(t, eng.HandleEvent(ctx, evt))
	require.NoError(t, eng.HandleEvent(ctx, evt))

	assert.Len(t, svc.applied, 1)
}

func TestEngineDistinctRevisionsBothApply(t *testing.T) {
	svc := &fakeLabelService{}
	eng := testEngine(t, svc)
	ctx := context.Background()

	require.NoError(t, eng.HandleEvent(ctx, likeEvent("did:plc:user1", "aaa", markerURI("3jzfcijpj2z2a"))))
	require.NoError(t, eng.HandleEvent(ctx, likeEvent("did:plc:user1", "bbb", markerURI("3k2akposts2ab"))))

	require.Len(t, svc.applied, 2)
	assert.Equal(t, "rp-heavy", svc.applied[1].val)
}

func TestEngineIgnoresSelfLike(t *testing.T) {
	svc := &fakeLabelService{}
	eng := testEngine(t, svc)

	evt := likeEvent(testAuthority, "aaa", markerURI("3jzfcijpj2z2a"))
	require.NoError(t, eng.HandleEvent(context.Background(), evt))
	assert.Empty(t, svc.applied)
}

func TestEngineIgnoresUnknownTriggerKey(t *testing.T) {
	svc := &fakeLabelService{}
	eng := testEngine(t, svc)

	evt := likeEvent("did:plc:user1", "aaa", markerURI("3zzznotakey2a"))
	require.NoError(t, eng.HandleEvent(context.Background(), evt))
	assert.Empty(t, svc.applied)
}

func TestEngineIgnoresOtherAccountsPosts(t *testing.T) {
	svc := &fakeLabelService{}
	eng := testEngine(t, svc)

	evt := likeEvent("did:plc:user1", "aaa", "at://did:plc:someoneelse/app.bsky.feed.post/3jzfcijpj2z2a")
	require.NoError(t, eng.HandleEvent(context.Background(), evt))
	assert.Empty(t, svc.applied)
}

func TestEngineIgnoresNonPostSubjects(t *testing.T) {
	svc := &fakeLabelService{}
	eng := testEngine(t, svc)

	evt := likeEvent("did:plc:user1", "aaa", fmt.Sprintf("at://%s/app.bsky.feed.generator/3jzfcijpj2z2a", testAuthority))
	require.NoError(t, eng.HandleEvent(context.Background(), evt))
	assert.Empty(t, svc.applied)
}

func TestEngineIgnoresNonLikeEvents(t *testing.T) {
	svc := &fakeLabelService{}
	eng := testEngine(t, svc)
	ctx := context.Background()

	evt := likeEvent("did:plc:user1", "aaa", markerURI("3jzfcijpj2z2a"))
	evt.Commit.Collection = "app.bsky.feed.post"
	require.NoError(t, eng.HandleEvent(ctx, evt))

	del := likeEvent("did:plc:user1", "bbb", markerURI("3jzfcijpj2z2a"))
	del.Commit.Operation = jetstream.CommitOpDelete
	require.NoError(t, eng.HandleEvent(ctx, del))

	ident := &jetstream.Event{Did: "did:plc:user1", Kind: jetstream.EvtKindIdentity}
	require.NoError(t, eng.HandleEvent(ctx, ident))

	assert.Empty(t, svc.applied)
}

func TestEngineDropsMalformedRecords(t *testing.T) {
	svc := &fakeLabelService{}
	eng := testEngine(t, svc)
	ctx := context.Background()

	evt := likeEvent("did:plc:user1", "aaa", markerURI("3jzfcijpj2z2a"))
	evt.Commit.Record = []byte(`{"$type":"app.bsky.feed.like"`)
	require.NoError(t, eng.HandleEvent(ctx, evt))

	noSubject := likeEvent("did:plc:user1", "bbb", markerURI("3jzfcijpj2z2a"))
	noSubject.Commit.Record = []byte(`{"$type":"app.bsky.feed.like","createdAt":"2024-05-01T12:00:00Z"}`)
	require.NoError(t, eng.HandleEvent(ctx, noSubject))

	assert.Empty(t, svc.applied)
}

func TestEngineSurfacesApplicationFailure(t *testing.T) {
	svc := &fakeLabelService{err: fmt.Errorf("service unavailable")}
	eng := testEngine(t, svc)

	evt := likeEvent("did:plc:user1", "aaa", markerURI("3jzfcijpj2z2a"))
	err := eng.HandleEvent(context.Background(), evt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service unavailable")
}
