package server

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fmueller/holaamigo/internal/apperr"
	"github.com/fmueller/holaamigo/internal/transcribe"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const helloBody = "Hello!"

type transcribeRequest struct {
	Message  string `json:"message"`
	Language string `json:"language"`
	Quality  string `json:"quality"`
}

type errorResponse struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

type handler struct {
	svc            Transcriber
	maxBodyBytes   int64
	requestTimeout time.Duration
	logger         *zap.Logger
}

func (h *handler) dispatch(c *gin.Context) {
	if c.Request.Method == http.MethodPost {
		h.transcribe(c)
		return
	}
	h.hello(c)
}

// hello answers liveness probes and CORS preflights.
func (h *handler) hello(c *gin.Context) {
	c.Header("Content-Length", strconv.Itoa(len(helloBody)))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(helloBody))
}

func (h *handler) transcribe(c *gin.Context) {
	const op = "Handler.Transcribe"

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)

	var body transcribeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(c, apperr.E(apperr.CodeTooLarge, op, "request body exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes", err))
		case errors.Is(err, io.EOF):
			writeError(c, apperr.E(apperr.CodeInvalidArgument, op, "request body is empty", err))
		default:
			writeError(c, apperr.E(apperr.CodeInvalidArgument, op, "request body is not a valid JSON object", err))
		}
		return
	}

	if strings.TrimSpace(body.Message) == "" {
		writeError(c, apperr.E(apperr.CodeInvalidArgument, op, "message is required", nil))
		return
	}

	audio, err := decodeAudio(body.Message)
	if err != nil {
		writeError(c, apperr.E(apperr.CodeInvalidArgument, op, "message is not valid base64", err))
		return
	}

	ctx := c.Request.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	result, err := h.svc.Transcribe(ctx, transcribe.Request{
		Audio:    audio,
		Language: body.Language,
		Quality:  body.Quality,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), errorResponse{
		Code:    apperr.CodeOf(err),
		Message: apperr.Message(err),
	})
}

var audioEncodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// decodeAudio accepts padded or unpadded standard and URL-safe base64, with an
// optional data URL prefix ("data:audio/wav;base64,") and embedded line breaks.
func decodeAudio(message string) ([]byte, error) {
	if strings.HasPrefix(message, "data:") {
		if i := strings.Index(message, ","); i >= 0 {
			message = message[i+1:]
		}
	}
	message = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, message)

	var firstErr error
	for _, enc := range audioEncodings {
		data, err := enc.DecodeString(message)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
