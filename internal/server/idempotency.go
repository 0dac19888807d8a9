package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	idempotencydomain "github.com/smallbiznis/seatledger/internal/idempotency/domain"
	"github.com/smallbiznis/seatledger/internal/observability/logger"
	"github.com/smallbiznis/seatledger/internal/observability/tracing"
	"go.uber.org/zap"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"

	ctxIdempotencyKey = "idempotency_key"
	ctxReplay         = "idempotency_replay"
	ctxResourceID     = "resource_id"
)

// bodyRecorder tees the response body so the exact bytes can be stored.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotent caches the outcome of a mutation under the Idempotency-Key
// header. With required false a request without the header passes through.
func (s *Server) Idempotent(resourceType string, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderIdempotencyKey)
		if raw == "" && !required {
			c.Next()
			return
		}
		key, err := idempotencydomain.ParseKey(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		// The saga must not be aborted by a client disconnect.
		ctx := context.WithoutCancel(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		log := logger.WithContext(ctx, s.log).With(zap.String("idempotency_key", key))

		fingerprint := idempotencydomain.Fingerprint(c.Request.Method, c.Request.URL.Path, body)
		record, isNew, err := s.idempotency.CreateOrGet(ctx, idempotencydomain.CreateRequest{
			Key:         key,
			Fingerprint: fingerprint,
			TraceID:     tracing.TraceID(c),
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}

		if !isNew {
			s.replay(c, record, fingerprint)
			return
		}
		s.metrics.RecordIdempotency("new")
		c.Set(ctxIdempotencyKey, key)

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		lastErr := c.Errors.Last()
		if lastErr != nil && errors.Is(lastErr.Err, ErrRateLimited) {
			if err := s.idempotency.Discard(ctx, key); err != nil {
				log.Warn("idempotency record discard failed", zap.Error(err))
			}
			return
		}
		if !c.Writer.Written() && lastErr != nil {
			renderError(c, lastErr.Err)
		}

		outcome := idempotencydomain.Outcome{
			Body:         recorder.body.Bytes(),
			StatusCode:   c.Writer.Status(),
			ResourceID:   c.GetString(ctxResourceID),
			ResourceType: resourceType,
		}
		if outcome.StatusCode >= http.StatusOK && outcome.StatusCode < http.StatusMultipleChoices {
			err = s.idempotency.MarkCompleted(ctx, key, outcome)
		} else {
			err = s.idempotency.MarkFailed(ctx, key, outcome)
		}
		if err != nil {
			log.Error("idempotency record not finalized", zap.Int("status", outcome.StatusCode), zap.Error(err))
		}
	}
}

func (s *Server) replay(c *gin.Context, record *idempotencydomain.Record, fingerprint string) {
	if s.cfg.Idempotency.EnforceFingerprint && record.RequestHash != fingerprint {
		s.metrics.RecordIdempotency("key_reused")
		AbortWithError(c, idempotencydomain.ErrKeyReused)
		return
	}
	if !record.Terminal() {
		s.metrics.RecordIdempotency("in_progress")
		AbortWithError(c, idempotencydomain.ErrRequestInProgress)
		return
	}

	s.metrics.RecordIdempotency("replayed")
	c.Set(ctxReplay, "true")
	c.Header("Idempotent-Replayed", "true")
	c.Data(record.StatusCode, "application/json; charset=utf-8", record.ResponseBody)
	c.Abort()
}
