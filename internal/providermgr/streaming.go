package providermgr

import (
	"context"

	"github.com/arcsign/exitbook/internal/errs"
	"github.com/arcsign/exitbook/internal/httpx"
	"github.com/arcsign/exitbook/internal/provider"
)

// Batch is one unit of streamed data, self-contained enough to resume from,
// per spec §4.3: "{data[], cursor, isComplete, stats}".
type Batch struct {
	Data       []map[string]any
	Cursor     map[string]any
	IsComplete bool
	Stats      BatchStats
}

// BatchStats reports per-batch counters surfaced to the importer.
type BatchStats struct {
	Fetched  int
	Deduped  int
	Provider string
}

// PageFetcher fetches one page of data from client at the given cursor. It
// is the provider-specific operation driving a stream (e.g.
// GetAddressTransactions).
type PageFetcher func(ctx context.Context, client provider.ApiClient, cursor map[string]any) (provider.Page, error)

// ExecuteStreaming implements spec §4.3's executeStreaming: a pull-based
// producer of batches with failover mid-stream. On failover, the
// replacement provider's ApplyReplayWindow widens the cursor conservatively
// and a provider.cursor.adjusted event is emitted with reason=failover.
// Deduplication across retries keys on idOf(record) alone, within the
// in-memory window seen so far in this stream; the provider and operation
// are not part of the key.
func (m *Manager) ExecuteStreaming(ctx context.Context, chain, operation string, fetch PageFetcher, startCursor map[string]any, idOf func(record map[string]any) string, yield func(Batch) error) error {
	cursor := startCursor
	seen := make(map[string]struct{})
	currentProvider := ""

	for {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(errs.Cancelled, "streaming cancelled", err)
		}

		cands, err := m.selectCandidates(chain)
		if err != nil {
			return err
		}

		m.mu.RLock()
		pool := m.pools[chain]
		m.mu.RUnlock()

		var page provider.Page
		var fetchErr error
		var pickedName string

		for _, c := range cands {
			if err := ctx.Err(); err != nil {
				return errs.Wrap(errs.Cancelled, "streaming cancelled", err)
			}

			client, getErr := m.registry.Get(c.name)
			if getErr != nil {
				fetchErr = getErr
				continue
			}

			effectiveCursor := cursor
			if currentProvider != "" && currentProvider != c.name {
				effectiveCursor = client.ApplyReplayWindow(cursor)
				m.events.Emit(Event{Kind: EventCursorAdjusted, Chain: chain, Provider: c.name, Reason: "failover", At: m.clock()})
			}

			st := pool.state[c.name]
			start := m.clock()
			p, err := fetch(ctx, client, effectiveCursor)
			latencyMs := m.clock().Sub(start).Milliseconds()

			if err != nil {
				fetchErr = err
				st.recordFailure(err, m.cfg.FailureThreshold, m.clock)
				if domainErr, ok := err.(*errs.Error); ok && !domainErr.Retriable {
					return domainErr
				}
				continue
			}

			st.recordSuccess(latencyMs, m.cfg.SuccessThreshold, m.clock)
			page = p
			pickedName = c.name
			cursor = effectiveCursor
			break
		}

		if pickedName == "" {
			return errs.Wrap(errs.ProviderUnavailable, "ALL_PROVIDERS_FAILED: "+chain+"/"+operation, fetchErr)
		}
		currentProvider = pickedName

		deduped := 0
		data := make([]map[string]any, 0, len(page.Data))
		for _, rec := range page.Data {
			key := idOf(rec)
			if _, dup := seen[key]; dup {
				deduped++
				continue
			}
			seen[key] = struct{}{}
			data = append(data, rec)
		}

		batch := Batch{
			Data:       data,
			Cursor:     page.Cursor,
			IsComplete: page.IsComplete,
			Stats:      BatchStats{Fetched: len(page.Data), Deduped: deduped, Provider: pickedName},
		}
		if err := yield(batch); err != nil {
			return err
		}

		cursor = page.Cursor
		if page.IsComplete {
			return nil
		}
	}
}

// MessageDecoder turns one raw websocket frame into a record plus the
// dedup key it should be tracked under.
type MessageDecoder func(raw map[string]any) (record map[string]any, id string, err error)

// ExecuteWebsocketStream drives a push-feed provider: it dials the first
// chain provider declaring provider.CapStreamWebsocket, decodes each
// inbound frame with decode, dedups by id the same way ExecuteStreaming
// does, and yields one single-record Batch per frame. A dropped connection
// is treated as a retriable provider failure and fails over to the next
// websocket-capable provider for chain, if any.
func (m *Manager) ExecuteWebsocketStream(ctx context.Context, chain string, subscribe map[string]any, decode MessageDecoder, yield func(Batch) error) error {
	candidates := m.websocketCandidates(chain)
	if len(candidates) == 0 {
		return errs.Newf(errs.ProviderUnavailable, "no websocket-capable provider registered for chain %s", chain)
	}

	seen := make(map[string]struct{})
	var lastErr error

	for _, meta := range candidates {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(errs.Cancelled, "websocket stream cancelled", err)
		}

		err := m.runWebsocketCandidate(ctx, chain, meta, subscribe, decode, seen, yield)
		if err == nil {
			return nil
		}
		lastErr = err
		if domainErr, ok := err.(*errs.Error); ok && !domainErr.Retriable {
			return domainErr
		}
		m.events.Emit(Event{Kind: EventCursorAdjusted, Chain: chain, Provider: meta.ProviderName, Reason: "websocket-failover", At: m.clock()})
	}
	return errs.Wrap(errs.ProviderUnavailable, "ALL_PROVIDERS_FAILED: "+chain+"/websocket", lastErr)
}

func (m *Manager) websocketCandidates(chain string) []provider.Metadata {
	var out []provider.Metadata
	for _, meta := range m.registry.ProvidersForChain(chain) {
		if meta.Supports(provider.CapStreamWebsocket) && meta.WebsocketURL != "" {
			out = append(out, meta)
		}
	}
	return out
}

func (m *Manager) runWebsocketCandidate(ctx context.Context, chain string, meta provider.Metadata, subscribe map[string]any, decode MessageDecoder, seen map[string]struct{}, yield func(Batch) error) error {
	conn, err := httpx.DialWebsocket(ctx, meta.WebsocketURL, nil)
	if err != nil {
		return errs.Wrap(errs.Network, "websocket dial failed for "+meta.ProviderName, err)
	}
	defer conn.Close() //nolint:errcheck

	if subscribe != nil {
		if err := conn.WriteJSON(subscribe); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(errs.Cancelled, "websocket stream cancelled", err)
		}

		var raw map[string]any
		if err := conn.ReadJSON(ctx, &raw); err != nil {
			return err
		}

		record, id, err := decode(raw)
		if err != nil {
			continue // malformed frame: skip, keep listening
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		batch := Batch{
			Data:       []map[string]any{record},
			IsComplete: false,
			Stats:      BatchStats{Fetched: 1, Provider: meta.ProviderName},
		}
		if err := yield(batch); err != nil {
			return err
		}
	}
}
