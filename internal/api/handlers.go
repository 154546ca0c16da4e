package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"strings"

	"github.com/SimplyPrint/pcsc-agent/internal/logging"
	"github.com/SimplyPrint/pcsc-agent/internal/metrics"
	"github.com/SimplyPrint/pcsc-agent/internal/pcsc"
	"github.com/SimplyPrint/pcsc-agent/internal/version"
)

// atrBufferSize covers the largest ATR any platform reports.
const atrBufferSize = 64

// TransmitRequest is the body of POST /v1/readers/{name}/transmit.
type TransmitRequest struct {
	APDU string `json:"apdu"` // hex
}

// TransmitResponse carries the card's answer.
type TransmitResponse struct {
	Response string `json:"response"` // hex, status word included
	SW       string `json:"sw,omitempty"`
	Protocol string `json:"protocol"`
}

// CardStatus is returned by GET /v1/readers/{name}/status.
type CardStatus struct {
	Reader   string `json:"reader"`
	Status   string `json:"status"`
	Protocol string `json:"protocol"`
	ATR      string `json:"atr,omitempty"`
}

func (s *Server) establish() (*pcsc.Context, error) {
	ctx, err := pcsc.EstablishWith(s.svc, s.cfg.Scope)
	if err != nil {
		metrics.RecordPCSCError("establish", err)
		logging.Error(logging.CatContext, "Failed to establish PC/SC context - is the smart card service running?", map[string]any{
			"error": err.Error(),
		})
	}
	return ctx, err
}

func (s *Server) handleListReaders(w http.ResponseWriter, r *http.Request) {
	ctx, err := s.establish()
	if err != nil {
		respondPCSCError(w, err)
		return
	}
	defer ctx.Close()

	names, err := ctx.ListReaderNames(s.cfg.ReaderBuffer)
	if err != nil {
		metrics.RecordPCSCError("list_readers", err)
		respondPCSCError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, ReadersFromNames(names))
}

func (s *Server) handleReaderStatus(w http.ResponseWriter, r *http.Request) {
	reader := r.PathValue("name")

	ctx, err := s.establish()
	if err != nil {
		respondPCSCError(w, err)
		return
	}
	defer ctx.Close()

	card, err := ctx.Connect(reader, pcsc.ShareShared, pcsc.ProtocolsT0|pcsc.ProtocolsT1)
	if err != nil {
		metrics.RecordPCSCError("connect", err)
		respondPCSCError(w, err)
		return
	}
	defer card.Close()

	status, proto, err := card.Status()
	if err != nil {
		metrics.RecordPCSCError("status", err)
		respondPCSCError(w, err)
		return
	}

	result := CardStatus{
		Reader:   reader,
		Status:   status.String(),
		Protocol: proto.String(),
	}
	atr, err := card.GetAttribute(pcsc.AttrAtrString, make([]byte, atrBufferSize))
	switch {
	case err == nil:
		result.ATR = hex.EncodeToString(atr)
	case errors.Is(err, pcsc.ErrUnsupportedFeature):
		// Some drivers do not expose the ATR attribute.
	default:
		metrics.RecordPCSCError("get_attribute", err)
		logging.Warn(logging.CatCard, "Failed to read ATR attribute", map[string]any{
			"reader": reader,
			"error":  err.Error(),
		})
	}

	disconnect(card, reader)
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleTransmit(w http.ResponseWriter, r *http.Request) {
	reader := r.PathValue("name")

	var req TransmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	apdu, err := hex.DecodeString(strings.ReplaceAll(req.APDU, " ", ""))
	if err != nil || len(apdu) == 0 {
		respondError(w, http.StatusBadRequest, "apdu must be a non-empty hex string")
		return
	}
	if len(apdu) > pcsc.MaxBufferSizeExtended {
		respondError(w, http.StatusBadRequest, "apdu too long")
		return
	}

	ctx, err := s.establish()
	if err != nil {
		respondPCSCError(w, err)
		return
	}
	defer ctx.Close()

	card, err := ctx.Connect(reader, pcsc.ShareShared, pcsc.ProtocolsT0|pcsc.ProtocolsT1)
	if err != nil {
		metrics.RecordPCSCError("connect", err)
		respondPCSCError(w, err)
		return
	}
	defer card.Close()

	tx, err := card.Transaction()
	if err != nil {
		metrics.RecordPCSCError("begin_transaction", err)
		respondPCSCError(w, err)
		return
	}
	defer tx.Close()

	rsp, err := tx.Transmit(apdu, make([]byte, pcsc.MaxBufferSizeExtended))
	if err != nil {
		metrics.RecordPCSCError("transmit", err)
		respondPCSCError(w, err)
		return
	}
	result := TransmitResponse{
		Response: hex.EncodeToString(rsp),
		Protocol: tx.ActiveProtocol().String(),
	}
	if len(rsp) >= 2 {
		result.SW = hex.EncodeToString(rsp[len(rsp)-2:])
	}

	if err := tx.End(pcsc.LeaveCard); err != nil {
		metrics.RecordPCSCError("end_transaction", err)
		logging.Warn(logging.CatTransaction, "Failed to end transaction", map[string]any{
			"reader": reader,
			"error":  err.Error(),
		})
	}
	disconnect(card, reader)

	logging.Debug(logging.CatCard, "APDU exchanged", map[string]any{
		"reader":   reader,
		"command":  hex.EncodeToString(apdu),
		"response": result.Response,
	})
	respondJSON(w, http.StatusOK, result)
}

// disconnect leaves the card as it is. The deferred Close resets it only if
// this fails.
func disconnect(card *pcsc.Card, reader string) {
	if err := card.Disconnect(pcsc.LeaveCard); err != nil {
		metrics.RecordPCSCError("disconnect", err)
		logging.Warn(logging.CatCard, "Failed to disconnect card", map[string]any{
			"reader": reader,
			"error":  err.Error(),
		})
	}
}

// statusForError maps a smart card service error to an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, pcsc.ErrUnknownReader), errors.Is(err, pcsc.ErrReaderUnavailable):
		return http.StatusNotFound
	case errors.Is(err, pcsc.ErrNoSmartcard), errors.Is(err, pcsc.ErrRemovedCard),
		errors.Is(err, pcsc.ErrUnpoweredCard), errors.Is(err, pcsc.ErrUnresponsiveCard),
		errors.Is(err, pcsc.ErrSharingViolation), errors.Is(err, pcsc.ErrProtoMismatch),
		errors.Is(err, pcsc.ErrResetCard):
		return http.StatusConflict
	case errors.Is(err, pcsc.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, pcsc.ErrNoService), errors.Is(err, pcsc.ErrServiceStopped),
		errors.Is(err, pcsc.ErrNoReadersAvailable), errors.Is(err, pcsc.ErrServerTooBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, pcsc.ErrInvalidParameter):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func respondPCSCError(w http.ResponseWriter, err error) {
	respondError(w, statusForError(err), err.Error())
}

func handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodDelete {
		logging.Get().Clear()
		respondJSON(w, http.StatusOK, map[string]string{
			"success": "logs cleared",
		})
		return
	}

	query := r.URL.Query()

	// Limit (default 100, max 1000)
	limit := 100
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = min(l, 1000)
		}
	}

	var minLevel *logging.Level
	if levelStr := query.Get("level"); levelStr != "" {
		if l, err := logging.ParseLevel(levelStr); err == nil {
			minLevel = &l
		}
	}

	var category *logging.Category
	if catStr := query.Get("category"); catStr != "" {
		c := logging.Category(catStr)
		category = &c
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"entries": logging.Get().GetEntries(limit, minLevel, category),
		"stats":   logging.Get().Stats(),
	})
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version":   version.Version,
		"buildTime": version.BuildTime,
		"gitCommit": version.GitCommit,
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Version,
		"os":      runtime.GOOS,
		"arch":    runtime.GOARCH,
	})
}
