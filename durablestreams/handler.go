package durablestreams

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/durable-streams/dstreamd/store"
)

// Protocol header names (spec §6 header table).
const (
	HeaderStreamNextOffset    = "Stream-Next-Offset"
	HeaderStreamCursor        = "Stream-Cursor"
	HeaderStreamUpToDate      = "Stream-Up-To-Date"
	HeaderStreamClosed        = "Stream-Closed"
	HeaderStreamSeq           = "Stream-Seq"
	HeaderStreamTTL           = "Stream-TTL"
	HeaderStreamExpiresAt     = "Stream-Expires-At"
	HeaderProducerID          = "Producer-Id"
	HeaderProducerEpoch       = "Producer-Epoch"
	HeaderProducerSeq         = "Producer-Seq"
	HeaderProducerExpectedSeq = "Producer-Expected-Seq"
	HeaderProducerReceivedSeq = "Producer-Received-Seq"
)

// ServeHTTP dispatches on method. Every path under the server is a stream
// address - there is no routing beyond method and the literal URL path, so
// CORS and logging aside, this is the entire adapter surface (spec §4.J).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers",
		"Content-Type, Stream-Seq, Stream-TTL, Stream-Expires-At, Stream-Closed, "+
			"Producer-Id, Producer-Epoch, Producer-Seq, If-None-Match")
	w.Header().Set("Access-Control-Expose-Headers",
		"Stream-Next-Offset, Stream-Cursor, Stream-Up-To-Date, Stream-Closed, "+
			"Producer-Epoch, Producer-Seq, Producer-Expected-Seq, Producer-Received-Seq, ETag, Location")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	path := r.URL.Path

	h.logger.Debug("dispatching request",
		zap.String("request_id", requestIDFromContext(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", path),
		zap.String("query", r.URL.RawQuery))

	var err error
	switch r.Method {
	case http.MethodPut:
		err = h.handleCreate(w, r, path)
	case http.MethodHead:
		err = h.handleHead(w, r, path)
	case http.MethodGet:
		err = h.handleRead(w, r, path)
	case http.MethodPost:
		err = h.handleAppend(w, r, path)
	case http.MethodDelete:
		err = h.handleDelete(w, r, path)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err != nil {
		h.writeError(w, err)
	}
}

// handleCreate handles PUT P - create (spec §4.F/§4.J).
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request, path string) error {
	contentType := r.Header.Get("Content-Type")
	ttlStr := r.Header.Get(HeaderStreamTTL)
	expiresAtStr := r.Header.Get(HeaderStreamExpiresAt)
	closed := parseBoolHeader(r.Header.Get(HeaderStreamClosed))

	if ttlStr != "" && expiresAtStr != "" {
		return newHTTPError(http.StatusBadRequest, "cannot specify both Stream-TTL and Stream-Expires-At")
	}

	var ttlSeconds *int64
	if ttlStr != "" {
		ttl, err := parseTTL(ttlStr)
		if err != nil {
			return newHTTPError(http.StatusBadRequest, err.Error())
		}
		ttlSeconds = &ttl
	}

	var expiresAt *time.Time
	if expiresAtStr != "" {
		t, err := time.Parse(time.RFC3339, expiresAtStr)
		if err != nil {
			return newHTTPError(http.StatusBadRequest, "invalid Stream-Expires-At format")
		}
		expiresAt = &t
	}

	var initialData []byte
	if r.ContentLength != 0 {
		var err error
		initialData, err = io.ReadAll(r.Body)
		if err != nil {
			return newHTTPError(http.StatusBadRequest, "failed to read body")
		}
	}

	opts := store.CreateOptions{
		ContentType: contentType,
		TTLSeconds:  ttlSeconds,
		ExpiresAt:   expiresAt,
		InitialData: initialData,
		Closed:      closed,
	}

	s, wasCreated, err := h.store.Create(path, opts)
	if err != nil {
		return translateStoreError(err)
	}
	snap := s.Snapshot()

	w.Header().Set("Content-Type", snap.ContentType)
	w.Header().Set(HeaderStreamNextOffset, snap.CurrentOffset.String())
	if snap.Closed {
		w.Header().Set(HeaderStreamClosed, "true")
	}

	if wasCreated {
		w.Header().Set("Location", requestURL(r))
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	return nil
}

// handleHead handles HEAD P (spec §4.J).
func (h *Handler) handleHead(w http.ResponseWriter, r *http.Request, path string) error {
	snap, err := h.store.Snapshot(path)
	if err != nil {
		return translateStoreError(err)
	}

	w.Header().Set("Content-Type", snap.ContentType)
	w.Header().Set(HeaderStreamNextOffset, snap.CurrentOffset.String())
	w.Header().Set("Cache-Control", "no-store")
	if snap.Closed {
		w.Header().Set(HeaderStreamClosed, "true")
	}
	if snap.TTLSeconds != nil {
		w.Header().Set(HeaderStreamTTL, strconv.FormatInt(*snap.TTLSeconds, 10))
	}
	if snap.ExpiresAt != nil {
		w.Header().Set(HeaderStreamExpiresAt, snap.ExpiresAt.Format(time.RFC3339))
	}

	w.WriteHeader(http.StatusOK)
	return nil
}

// handleDelete handles DELETE P (spec §4.J).
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, path string) error {
	if err := h.store.Delete(path); err != nil {
		return translateStoreError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// handleRead handles GET P - catch-up, long-poll and (delegated) SSE reads
// (spec §4.H/§4.I/§4.J).
func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request, path string) error {
	snap, err := h.store.Snapshot(path)
	if err != nil {
		return translateStoreError(err)
	}

	query := r.URL.Query()
	offsetValues, offsetProvided := query["offset"]
	offsetStr := ""
	if offsetProvided {
		if len(offsetValues) > 1 {
			return newHTTPError(http.StatusBadRequest, "multiple offset parameters not allowed")
		}
		offsetStr = offsetValues[0]
		if offsetStr == "" {
			return newHTTPError(http.StatusBadRequest, "offset parameter cannot be empty")
		}
	}

	offset, isNow, err := store.ValidateForRequest(offsetStr)
	if err != nil {
		return newHTTPError(http.StatusBadRequest, "invalid offset")
	}

	liveMode := query.Get("live")
	clientCursor := query.Get("cursor")

	if (liveMode == "long-poll" || liveMode == "sse") && !offsetProvided {
		return newHTTPError(http.StatusBadRequest, "offset required for "+liveMode+" mode")
	}

	if liveMode == "sse" {
		return h.handleSSE(w, r, path, offset, isNow, clientCursor, snap)
	}

	if liveMode == "long-poll" {
		if h.metrics != nil {
			h.metrics.WaiterStarted()
			defer h.metrics.WaiterFinished()
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.opts.LongPollTimeout)
		defer cancel()

		result, hasData, err := h.store.Wait(ctx, path, offset, isNow, h.opts.LongPollTimeout)
		if err != nil {
			return translateStoreError(err)
		}
		if h.metrics != nil {
			h.metrics.ReadsTotal.WithLabelValues("long-poll").Inc()
		}

		if !hasData {
			w.Header().Set("Content-Type", snap.ContentType)
			w.Header().Set(HeaderStreamNextOffset, result.NextOffset.String())
			w.Header().Set(HeaderStreamUpToDate, "true")
			if result.StreamClosed {
				w.Header().Set(HeaderStreamClosed, "true")
			}
			w.Header().Set(HeaderStreamCursor, generateResponseCursor(clientCursor))
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		h.renderRead(w, r, path, snap.ContentType, offset, result, liveMode, clientCursor, false)
		return nil
	}

	// Catch-up read, including offset=now without live=long-poll, which
	// resolves to an immediate empty-but-200 result (spec §4.J).
	result, err := h.store.Read(path, offset, isNow)
	if err != nil {
		return translateStoreError(err)
	}
	if h.metrics != nil {
		h.metrics.ReadsTotal.WithLabelValues("catch-up").Inc()
	}
	h.renderRead(w, r, path, snap.ContentType, offset, result, liveMode, clientCursor, true)
	return nil
}

// renderRead writes the common response shape shared by catch-up reads and
// data-bearing long-poll reads: headers, conditional-GET handling, then
// body. checkConditional gates ETag/If-None-Match: per spec §9's documented
// (and intentionally preserved) quirk, the source validates If-None-Match
// only on catch-up reads, never on long-poll responses.
func (h *Handler) renderRead(w http.ResponseWriter, r *http.Request, path, contentType string, requestedOffset store.Offset, result store.ReadResult, liveMode, clientCursor string, checkConditional bool) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set(HeaderStreamNextOffset, result.NextOffset.String())
	if result.UpToDate {
		w.Header().Set(HeaderStreamUpToDate, "true")
		if result.StreamClosed {
			w.Header().Set(HeaderStreamClosed, "true")
		}
	}
	if liveMode == "long-poll" {
		w.Header().Set(HeaderStreamCursor, generateResponseCursor(clientCursor))
	}

	etag := fmt.Sprintf("%q", buildETag(path, requestedOffset, result))
	if checkConditional {
		w.Header().Set("ETag", etag)
		if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		if !result.UpToDate {
			w.Header().Set("Cache-Control", "public, max-age=60, stale-while-revalidate=300")
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write(result.Body)
}

// buildETag implements spec §4.J: `"<path>:<start_offset>:<end_offset>[:c]"`.
func buildETag(path string, start store.Offset, result store.ReadResult) string {
	suffix := ""
	if result.StreamClosed {
		suffix = ":c"
	}
	return path + ":" + start.String() + ":" + result.NextOffset.String() + suffix
}

// handleAppend handles POST P - append or close (spec §4.G/§4.J).
func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request, path string) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return newHTTPError(http.StatusBadRequest, "failed to read body")
	}

	producerID := r.Header.Get(HeaderProducerID)
	var epochPtr, seqPtr *int64
	if v := r.Header.Get(HeaderProducerEpoch); v != "" {
		epoch, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return newHTTPError(http.StatusBadRequest, "invalid Producer-Epoch")
		}
		epochPtr = &epoch
	}
	if v := r.Header.Get(HeaderProducerSeq); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return newHTTPError(http.StatusBadRequest, "invalid Producer-Seq")
		}
		seqPtr = &seq
	}
	hasProducer := producerID != "" && epochPtr != nil && seqPtr != nil

	opts := store.AppendOptions{
		Seq:           r.Header.Get(HeaderStreamSeq),
		ContentType:   r.Header.Get("Content-Type"),
		Close:         parseBoolHeader(r.Header.Get(HeaderStreamClosed)),
		ProducerID:    producerID,
		ProducerEpoch: epochPtr,
		ProducerSeq:   seqPtr,
	}

	result, err := h.store.Append(path, body, opts)
	if err != nil {
		return h.translateAppendError(w, err, result, epochPtr)
	}
	if h.metrics != nil {
		h.metrics.AppendsTotal.WithLabelValues("accepted").Inc()
	}

	switch {
	case result.CloseOnly:
		w.Header().Set(HeaderStreamNextOffset, result.Offset.String())
		w.Header().Set(HeaderStreamClosed, "true")
		w.WriteHeader(http.StatusNoContent)

	case result.ProducerResult == store.ProducerDuplicate:
		w.Header().Set(HeaderProducerEpoch, strconv.FormatInt(*epochPtr, 10))
		w.Header().Set(HeaderProducerSeq, strconv.FormatInt(result.LastSeq, 10))
		w.WriteHeader(http.StatusNoContent)

	case hasProducer:
		w.Header().Set(HeaderStreamNextOffset, result.Offset.String())
		w.Header().Set(HeaderProducerEpoch, strconv.FormatInt(*epochPtr, 10))
		w.Header().Set(HeaderProducerSeq, strconv.FormatInt(result.LastSeq, 10))
		w.WriteHeader(http.StatusOK)

	default:
		w.Header().Set(HeaderStreamNextOffset, result.Offset.String())
		w.WriteHeader(http.StatusNoContent)
	}
	return nil
}

// translateAppendError maps a failed Append call to its HTTP status and
// any response headers the failure itself carries (spec §4.J's status
// table). It writes headers directly rather than returning an *httpError
// since several of these failures need response headers beyond a status
// code and a plain-text body.
func (h *Handler) translateAppendError(w http.ResponseWriter, err error, result store.AppendResult, epochPtr *int64) error {
	if h.metrics != nil {
		h.metrics.AppendsTotal.WithLabelValues("rejected").Inc()
	}

	switch {
	case errors.Is(err, store.ErrStreamNotFound):
		return newHTTPError(http.StatusNotFound, "stream not found")
	case errors.Is(err, store.ErrStreamClosed):
		w.Header().Set(HeaderStreamClosed, "true")
		w.Header().Set(HeaderStreamNextOffset, result.Offset.String())
		http.Error(w, "stream is closed", http.StatusConflict)
		return nil
	case errors.Is(err, store.ErrContentTypeMismatch):
		return newHTTPError(http.StatusConflict, "content type mismatch")
	case errors.Is(err, store.ErrPartialProducer), errors.Is(err, store.ErrBadRequest):
		return newHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrStaleEpoch):
		w.Header().Set(HeaderProducerEpoch, strconv.FormatInt(result.CurrentEpoch, 10))
		http.Error(w, "producer epoch is stale", http.StatusForbidden)
		return nil
	case errors.Is(err, store.ErrInvalidEpochSeq):
		return newHTTPError(http.StatusBadRequest, "new epoch must start at sequence 0")
	case errors.Is(err, store.ErrProducerSeqGap):
		w.Header().Set(HeaderProducerExpectedSeq, strconv.FormatInt(result.ExpectedSeq, 10))
		w.Header().Set(HeaderProducerReceivedSeq, strconv.FormatInt(result.ReceivedSeq, 10))
		http.Error(w, "producer sequence gap", http.StatusConflict)
		return nil
	case errors.Is(err, store.ErrSequenceConflict):
		return newHTTPError(http.StatusConflict, "Stream-Seq is not strictly increasing")
	case errors.Is(err, store.ErrEmptyBody):
		return newHTTPError(http.StatusBadRequest, "empty body not allowed")
	case errors.Is(err, store.ErrInvalidJSON):
		return newHTTPError(http.StatusBadRequest, "invalid JSON")
	case errors.Is(err, store.ErrEmptyJSONArray):
		return newHTTPError(http.StatusBadRequest, "empty JSON array not allowed")
	default:
		return err
	}
}

// translateStoreError maps the remaining store errors (PUT/HEAD/GET/DELETE
// paths) to their HTTP status.
func translateStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrStreamNotFound):
		return newHTTPError(http.StatusNotFound, "stream not found")
	case errors.Is(err, store.ErrConfigMismatch):
		return newHTTPError(http.StatusConflict, "stream exists with different configuration")
	case errors.Is(err, store.ErrInvalidJSON):
		return newHTTPError(http.StatusBadRequest, "invalid JSON")
	case errors.Is(err, store.ErrEmptyJSONArray):
		return newHTTPError(http.StatusBadRequest, "empty JSON array not allowed")
	default:
		return err
	}
}

// parseBoolHeader reports whether a header's value is exactly "true",
// case-insensitively - the only truthy spelling the protocol recognizes for
// Stream-Closed.
func parseBoolHeader(v string) bool {
	return strings.EqualFold(v, "true")
}

// requestURL reconstructs an absolute URL for the Location header,
// respecting X-Forwarded-Proto from a reverse proxy.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.Path)
}

// httpError is a business-rule failure that maps directly to a status code
// and a plain-text body, distinct from an unexpected internal error.
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string { return e.message }

func newHTTPError(status int, message string) *httpError {
	return &httpError{status: status, message: message}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		http.Error(w, httpErr.message, httpErr.status)
		return
	}

	h.logger.Error("internal error", zap.Error(err))
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// ttlRegex enforces spec §4.A's strict TTL grammar: digits only, "0"
// allowed, no leading zeros otherwise, no sign, no decimal/exponent.
var ttlRegex = regexp.MustCompile(`^[1-9][0-9]*$|^0$`)

func parseTTL(s string) (int64, error) {
	if !ttlRegex.MatchString(s) {
		return 0, fmt.Errorf("invalid Stream-TTL: must be a non-negative integer without leading zeros")
	}
	return strconv.ParseInt(s, 10, 64)
}
