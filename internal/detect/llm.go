package detect

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"mcpconceal/internal/metrics"
)

// promptVersion is bumped whenever the prompt template below changes, so
// cache entries keyed on an older template are never mistaken for a hit
// against the current one.
const promptVersion = "v1"

// Cache is the content-addressed cache the LLM detector consults before
// making a network call, and populates afterward whether the call hits or
// misses. Implemented by the pseudonym store's llm_cache bucket.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
}

// cachedSpans is the serialized form stored per cache entry: a plain list
// of ⟨offset, length, type, confidence⟩.
type cachedSpans struct {
	Spans []cachedSpan `json:"spans"`
}

type cachedSpan struct {
	Offset     int     `json:"offset"`
	Length     int     `json:"length"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// llmDetection is one ⟨text, type, confidence⟩ triple as returned by the
// model, before being converted to an offset-length span against the
// source string.
type llmDetection struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// LLMDetector queries a locally reachable HTTP endpoint (an Ollama-style
// /api/generate) for PII spans a pattern detector's fixed regexes would
// miss. Optional: failures downgrade to an empty result, never fatal.
//
// Each call is synchronous and bounded by timeout: the result feeds
// straight into fusion for the current message, so a dispatch that
// finished later would already be too late to use.
type LLMDetector struct {
	endpoint string
	model    string
	timeout  time.Duration
	client   *http.Client
	cache    Cache
	sem      chan struct{}
	m        *metrics.Metrics

	inflightMu sync.Mutex
	inflight   map[string]chan struct{}
}

// NewLLMDetector returns a detector posting to endpoint+"/api/generate",
// bounding concurrent in-flight requests to maxConcurrent (minimum 1).
// m receives the LLM dispatch/error/cache-hit/cache-miss counters; a nil m
// is valid (counters are simply not recorded), so callers that don't care
// about telemetry (e.g. most tests) aren't forced to thread one through.
func NewLLMDetector(endpoint, model string, timeout time.Duration, maxConcurrent int, cache Cache, m *metrics.Metrics) *LLMDetector {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLMDetector{
		endpoint: strings.TrimSuffix(endpoint, "/") + "/api/generate",
		model:    model,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		cache:    cache,
		sem:      make(chan struct{}, maxConcurrent),
		inflight: make(map[string]chan struct{}),
		m:        m,
	}
}

// Detect returns LLM-reported spans for text, consulting the cache first.
// Any failure (network, timeout, non-2xx, unparsable JSON) is logged and
// yields an empty result rather than an error — the LLM is never
// authoritative and its absence must never block the pipeline.
func (d *LLMDetector) Detect(ctx context.Context, text string) []Span {
	key := cacheKey(d.model, text)

	if raw, hit := d.cache.Get(key); hit {
		spans := d.decodeCachedSpans(raw, text)
		d.recordCacheResult(true, spans)
		return spans
	}

	// Deduplicate concurrent callers requesting the same text: the first
	// caller does the work, the rest wait for it and then re-check the
	// cache, rather than firing N identical HTTP calls.
	d.inflightMu.Lock()
	if wait, ok := d.inflight[key]; ok {
		d.inflightMu.Unlock()
		<-wait
		if raw, hit := d.cache.Get(key); hit {
			spans := d.decodeCachedSpans(raw, text)
			d.recordCacheResult(true, spans)
			return spans
		}
		return nil
	}
	done := make(chan struct{})
	d.inflight[key] = done
	d.inflightMu.Unlock()
	defer func() {
		d.inflightMu.Lock()
		delete(d.inflight, key)
		d.inflightMu.Unlock()
		close(done)
	}()

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		log.Printf("[DETECT] llm detector: concurrency limit reached, skipping")
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if d.m != nil {
		d.m.LLMDispatches.Add(1)
	}
	detections, err := d.query(callCtx, text)
	if err != nil {
		if d.m != nil {
			d.m.LLMErrors.Add(1)
		}
		log.Printf("[DETECT] llm detector query failed: %v", err)
		return nil
	}

	spans := toSpans(detections, text)
	d.recordCacheResult(false, spans)
	d.cache.Set(key, encodeCachedSpans(spans))
	return spans
}

// recordCacheResult attributes one cache hit or miss to each distinct
// entity type present in spans (or to "none" when the lookup yielded no
// spans at all), since the LLM cache itself is keyed on the whole input
// text rather than per entity type. A nil m (the common case in tests
// that don't care about telemetry) is a no-op.
func (d *LLMDetector) recordCacheResult(hit bool, spans []Span) {
	if d.m == nil {
		return
	}
	if len(spans) == 0 {
		if hit {
			d.m.RecordCacheHit("none")
		} else {
			d.m.RecordCacheMiss("none")
		}
		return
	}
	seen := make(map[EntityType]bool, len(spans))
	for _, s := range spans {
		if seen[s.Type] {
			continue
		}
		seen[s.Type] = true
		if hit {
			d.m.RecordCacheHit(string(s.Type))
		} else {
			d.m.RecordCacheMiss(string(s.Type))
		}
	}
}

func (d *LLMDetector) query(ctx context.Context, text string) ([]llmDetection, error) {
	prompt := fmt.Sprintf(`Analyze the following text for personally identifiable information (PII).
Return ONLY a JSON array of detections. Each item must have:
- "text": the exact substring found, copied verbatim from the input
- "type": one of: email, phone, person, ssn, address, date_of_birth, credit_card, ip_address, url, other
- "confidence": float between 0.0 and 1.0

Text to analyze:
%s

Return ONLY the JSON array, no explanation. Example: [{"text":"John Smith","type":"person","confidence":0.92}]`, text)

	body, err := json.Marshal(generateRequest{Model: d.model, Prompt: prompt, Stream: false})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("llm endpoint returned status %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var gen generateResponse
	if err := json.Unmarshal(respBody, &gen); err != nil {
		return nil, fmt.Errorf("parse response envelope: %w", err)
	}

	return extractDetections(gen.Response)
}

// extractDetections tolerantly locates the first well-formed JSON array
// in raw (the model's free-text response may wrap it in prose) and
// decodes it.
func extractDetections(raw string) ([]llmDetection, error) {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array found in llm response")
	}
	var detections []llmDetection
	if err := json.Unmarshal([]byte(raw[start:end+1]), &detections); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	return detections, nil
}

// toSpans converts each detection's exact-text match into an offset-length
// span against src by first occurrence (case-sensitive). Detections whose
// text is empty or does not appear in src are dropped.
func toSpans(detections []llmDetection, src string) []Span {
	var out []Span
	for _, d := range detections {
		if d.Text == "" {
			continue
		}
		idx := strings.Index(src, d.Text)
		if idx == -1 {
			continue
		}
		out = append(out, Span{
			Start:      idx,
			Length:     len(d.Text),
			Type:       EntityType(d.Type),
			Confidence: d.Confidence,
			Provenance: ProvenanceLLM,
		})
	}
	return out
}

func cacheKey(model, text string) string {
	h := sha256.Sum256([]byte(model + "\x00" + promptVersion + "\x00" + text))
	return hex.EncodeToString(h[:])
}

func encodeCachedSpans(spans []Span) []byte {
	cs := cachedSpans{Spans: make([]cachedSpan, len(spans))}
	for i, s := range spans {
		cs.Spans[i] = cachedSpan{Offset: s.Start, Length: s.Length, Type: string(s.Type), Confidence: s.Confidence}
	}
	b, _ := json.Marshal(cs)
	return b
}

// decodeCachedSpans decodes a cached response against the current text,
// dropping any span that no longer fits (the cache is keyed by exact text
// content via cacheKey, so this should only happen on a hash collision —
// defensive, not expected in practice). Each drop counts as a cache
// fallback: the cache had an entry, but it couldn't be used as-is.
func (d *LLMDetector) decodeCachedSpans(raw []byte, text string) []Span {
	var cs cachedSpans
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil
	}
	var out []Span
	for _, s := range cs.Spans {
		if s.Offset < 0 || s.Offset+s.Length > len(text) {
			if d.m != nil {
				d.m.CacheFallbacks.Add(1)
			}
			continue // cache entry predates a differently-lengthed text; skip rather than risk an out-of-range splice
		}
		out = append(out, Span{
			Start:      s.Offset,
			Length:     s.Length,
			Type:       EntityType(s.Type),
			Confidence: s.Confidence,
			Provenance: ProvenanceLLM,
		})
	}
	return out
}
