package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/kiesman99/merc2eqr/internal/api"
	"github.com/kiesman99/merc2eqr/internal/converter"
	"github.com/kiesman99/merc2eqr/pkg/raster"
)

// DefaultMaxBodyBytes caps uploaded images and JSON bodies
const DefaultMaxBodyBytes = 64 << 20

// maxDimension is the largest width or height a request may ask for
const maxDimension = 10000

// Config holds the tunables of the API server
type Config struct {
	MaxBodyBytes int64
	Workers      int
	UserAgent    string
	FetchTimeout time.Duration
}

// Server implements the ServerInterface from the generated API
type Server struct {
	startTime    time.Time
	version      string
	conv         *converter.Converter
	maxBodyBytes int64
	workers      int
}

// NewServer creates a new server instance
func NewServer(version string, cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	return &Server{
		startTime:    time.Now(),
		version:      version,
		conv:         converter.New(raster.NewFetcher(cfg.UserAgent, cfg.FetchTimeout)),
		maxBodyBytes: cfg.MaxBodyBytes,
		workers:      cfg.Workers,
	}
}

// GetHealth implements the health check endpoint
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	uptime := int(time.Since(s.startTime).Seconds())

	response := api.HealthResponse{
		Status:    api.Healthy,
		Timestamp: time.Now(),
		Uptime:    &uptime,
		Version:   &s.version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

// ConvertImage converts a Mercator image uploaded as the request body
func (s *Server) ConvertImage(w http.ResponseWriter, r *http.Request, params api.ConvertImageParams) {
	requestID := requestIDFor(r)

	opts, err := s.outputOptions(params.Width, params.Height, params.Format, params.Worldfile)
	if err != nil {
		s.writeValidationErrorResponse(w, err.Error(), "query", &requestID)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		s.handleBodyError(w, err, &requestID)
		return
	}
	if len(data) == 0 {
		s.writeValidationErrorResponse(w, "request body must contain an image", "body", &requestID)
		return
	}

	result, err := s.conv.Convert(r.Context(), data, opts)
	if err != nil {
		s.handleConversionError(w, err, &requestID)
		return
	}

	s.writeImage(w, result, opts.OutputFormat, requestID)
}

// ConvertRemote downloads a Mercator image and converts it
func (s *Server) ConvertRemote(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFor(r)

	var req api.ConvertRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes)).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.handleBodyError(w, err, &requestID)
			return
		}
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_JSON",
			"Invalid JSON in request body", &requestID, nil)
		return
	}

	// Validate request
	if err := validateSourceURL(req.Source.Url); err != nil {
		s.writeValidationErrorResponse(w, err.Error(), "source.url", &requestID)
		return
	}

	var opts *converter.Options
	var err error
	if req.Output != nil {
		opts, err = s.outputOptions(req.Output.Width, req.Output.Height, req.Output.Format, req.Output.GenerateWorldfile)
	} else {
		opts, err = s.outputOptions(nil, nil, nil, nil)
	}
	if err != nil {
		s.writeValidationErrorResponse(w, err.Error(), "output", &requestID)
		return
	}

	var headers map[string]string
	if req.Source.Headers != nil {
		headers = *req.Source.Headers
	}

	result, err := s.conv.ConvertURL(r.Context(), req.Source.Url, headers, opts)
	if err != nil {
		s.handleConversionError(w, err, &requestID)
		return
	}

	s.writeImage(w, result, opts.OutputFormat, requestID)
}

// outputOptions validates the optional output parameters shared by both endpoints
func (s *Server) outputOptions(width, height *int, format *api.OutputFormat, worldfile *bool) (*converter.Options, error) {
	opts := &converter.Options{
		OutputFormat: raster.FormatPNG,
		Workers:      s.workers,
	}

	if width != nil {
		if *width < 1 || *width > maxDimension {
			return nil, fmt.Errorf("width must be between 1 and %d", maxDimension)
		}
		opts.Width = *width
	}
	if height != nil {
		if *height < 1 || *height > maxDimension {
			return nil, fmt.Errorf("height must be between 1 and %d", maxDimension)
		}
		opts.Height = *height
	}

	if format != nil {
		switch *format {
		case api.Png:
			opts.OutputFormat = raster.FormatPNG
		case api.Tiff:
			opts.OutputFormat = raster.FormatTIFF
		default:
			return nil, fmt.Errorf("invalid format: %s", *format)
		}
	}

	if worldfile != nil {
		opts.GenerateWorldFile = *worldfile
	}

	return opts, nil
}

func validateSourceURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("source.url is required")
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("source.url must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("source.url must use http or https")
	}

	return nil
}

// writeImage writes the encoded image with its metadata headers
func (s *Server) writeImage(w http.ResponseWriter, result *converter.Result, format raster.Format, requestID string) {
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.ImageData)))
	if result.WorldFileData != nil {
		w.Header().Set("X-World-File", strings.Join(strings.Fields(string(result.WorldFileData)), ","))
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.ImageData); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

// handleParamError reports query parameters the generated binding could not parse
func (s *Server) handleParamError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := requestIDFor(r)

	field := "query"
	var formatErr *api.InvalidParamFormatError
	if errors.As(err, &formatErr) {
		field = formatErr.ParamName
	}

	s.writeValidationErrorResponse(w, err.Error(), field, &requestID)
}

func (s *Server) handleBodyError(w http.ResponseWriter, err error, requestID *string) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeErrorResponse(w, http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE",
			fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit), requestID, nil)
		return
	}

	s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST",
		"Failed to read request body", requestID, nil)
}

// handleConversionError maps converter errors to API responses
func (s *Server) handleConversionError(w http.ResponseWriter, err error, requestID *string) {
	// The client went away, nobody is left to answer
	if errors.Is(err, context.Canceled) {
		return
	}

	// Checked before SourceError, which wraps it for oversized sources
	if errors.Is(err, converter.ErrTooLarge) {
		s.writeErrorResponse(w, http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE",
			err.Error(), requestID, map[string]interface{}{
				"max_pixels": converter.MaxPixels,
			})
		return
	}

	var srcErr *converter.SourceError
	if errors.As(err, &srcErr) {
		// an uploaded image is the client's fault, a downloaded one the upstream's
		if srcErr.URL == "" {
			s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_IMAGE",
				srcErr.Error(), requestID, nil)
			return
		}

		response := api.SourceErrorResponse{
			Error:      "SOURCE_ERROR",
			Message:    srcErr.Error(),
			Url:        srcErr.URL,
			StatusCode: srcErr.StatusCode,
			RequestId:  requestID,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(response)
		return
	}

	// Check if it's a timeout error
	if errors.Is(err, context.DeadlineExceeded) {
		s.writeErrorResponse(w, http.StatusGatewayTimeout, "SOURCE_TIMEOUT",
			"Conversion timed out", requestID, nil)
		return
	}

	// Generic internal server error
	log.Printf("Conversion failed (request %s): %v", *requestID, err)
	s.writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR",
		"Internal server error", requestID, nil)
}

// writeErrorResponse writes a standard error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string, requestID *string, details map[string]interface{}) {
	response := api.ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestId: requestID,
	}

	if details != nil {
		response.Details = &details
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// writeValidationErrorResponse writes a validation error response
func (s *Server) writeValidationErrorResponse(w http.ResponseWriter, message, field string, requestID *string) {
	response := api.ValidationErrorResponse{
		Error:     api.VALIDATIONERROR,
		Message:   message,
		RequestId: requestID,
		ValidationErrors: []struct {
			Code    *string `json:"code,omitempty"`
			Field   string  `json:"field"`
			Message string  `json:"message"`
		}{
			{
				Field:   field,
				Message: message,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(response)
}

// requestIDFor prefers the id assigned by chi's RequestID middleware
func requestIDFor(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return "req_" + uuid.NewString()
}
