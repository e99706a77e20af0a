package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"callrec-server/pkg/errors"
	"callrec-server/pkg/platform"
)

type makeCallRequest struct {
	Targets []platform.Identity `json:"targets"`
}

type makeCallResponse struct {
	CallID string `json:"call_id"`
}

type addParticipantRequest struct {
	Target platform.Identity `json:"target"`
}

type stopRecordingRequest struct {
	SpeakerKey string `json:"speaker_key"`
}

func (s *Server) makeCallHandler(w http.ResponseWriter, r *http.Request) {
	var req makeCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.ErrorResponse(w, errors.Wrap(errors.ErrInvalidInput, "invalid request body"))
		return
	}

	for _, target := range req.Targets {
		if !target.Resolved() {
			s.ErrorResponse(w, errors.Wrap(errors.ErrInvalidInput, "target identity is incomplete"))
			return
		}
	}

	callID, err := s.facade.MakeCall(r.Context(), req.Targets)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, makeCallResponse{CallID: callID})
}

func (s *Server) listCallsHandler(w http.ResponseWriter, r *http.Request) {
	sessions := s.facade.Sessions()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(sessions),
		"calls": sessions,
	})
}

func (s *Server) hangupHandler(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")
	if err := s.facade.Hangup(r.Context(), callID); err != nil {
		s.ErrorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addParticipantHandler(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")

	var req addParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.ErrorResponse(w, errors.Wrap(errors.ErrInvalidInput, "invalid request body"))
		return
	}
	if !req.Target.Resolved() {
		s.ErrorResponse(w, errors.Wrap(errors.ErrInvalidInput, "target identity is incomplete"))
		return
	}

	if err := s.facade.AddParticipant(r.Context(), callID, req.Target); err != nil {
		s.ErrorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) startRecordingHandler(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")
	if err := s.facade.StartRecording(callID); err != nil {
		s.ErrorResponse(w, err)
		return
	}

	s.logger.WithField("call_id", callID).Info("Recording started via API")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stopRecordingHandler(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")

	var req stopRecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.ErrorResponse(w, errors.Wrap(errors.ErrInvalidInput, "invalid request body"))
		return
	}
	if req.SpeakerKey == "" {
		s.ErrorResponse(w, errors.Wrap(errors.ErrInvalidInput, "speaker_key is required"))
		return
	}

	artifact, err := s.facade.StopRecording(callID, req.SpeakerKey)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	writeJSON(w, http.StatusOK, artifact)
}

func (s *Server) fetchArtifactHandler(w http.ResponseWriter, r *http.Request) {
	speakerKey := r.PathValue("speakerKey")

	stored, err := s.facade.FetchArtifact(speakerKey)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}
	defer stored.Content.Close()

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.FormatInt(stored.TotalBytes(), 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, stored.Content); err != nil {
		s.logger.WithFields(logrus.Fields{
			"speaker_key": speakerKey,
			"error":       err,
		}).Warn("Artifact download interrupted")
	}
}
