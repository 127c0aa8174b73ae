package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/renewalhq/crt/auth"
	"github.com/renewalhq/crt/extraction"
	"github.com/renewalhq/crt/mail"
	resp "github.com/renewalhq/crt/response"
	"github.com/renewalhq/crt/storage"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

const (
	documentBodyLimit = 25 << 20 // uploaded contract documents
	packetLinkExpiry  = time.Hour * 24 * 7
)

// ServiceOptions contains the configuration for the Service router
type ServiceOptions struct {
	Auth            *auth.Auth
	ContractManager *Manager
	Extractor       *extraction.Extractor
	Bucket          *storage.Bucket
	Mailer          mail.Mailer
	Logger          *zap.Logger
}

// Service is the contract API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the contract API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.ContractManager == nil {
		return nil, fmt.Errorf("nil ContractManager is invalid")
	}
	if option.Extractor == nil {
		return nil, fmt.Errorf("nil Extractor is invalid")
	}
	if option.Bucket == nil {
		return nil, fmt.Errorf("nil Bucket is invalid")
	}
	if option.Mailer == nil {
		return nil, fmt.Errorf("nil Mailer is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// CreateRequest is the model for registering a contract to track
type CreateRequest struct {
	Vendor           string `json:"vendor" validate:"required"`
	Title            string `json:"title" validate:"required"`
	StartDate        string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate          string `json:"endDate" validate:"required,datetime=2006-01-02"`
	NoticePeriodDays int    `json:"noticePeriodDays" validate:"gte=0"`
	AutoRenews       bool   `json:"autoRenews"`
	AnnualValueCents int64  `json:"annualValueCents" validate:"gte=0"`
	Currency         string `json:"currency" validate:"omitempty,len=3"`
}

func (s *Service) createContract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	startDate, _ := time.Parse("2006-01-02", req.StartDate)
	endDate, _ := time.Parse("2006-01-02", req.EndDate)
	if !endDate.After(startDate) {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("endDate must be after startDate"))
		return
	}

	c := &Contract{
		UserID:           claims.ID,
		Vendor:           req.Vendor,
		Title:            req.Title,
		StartDate:        startDate,
		EndDate:          endDate,
		NoticePeriodDays: req.NoticePeriodDays,
		AutoRenews:       req.AutoRenews,
		AnnualValueCents: req.AnnualValueCents,
		Currency:         req.Currency,
	}
	if err := s.ContractManager.Create(ctx, c); err != nil {
		s.Logger.Error("Unable to create contract",
			zap.String("UserID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot create contract"))
		return
	}

	resp.WriteResponse(w, r, c)
}

func (s *Service) listContracts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	opt := ListOption{
		UserID: claims.ID,
		Limit:  50,
	}
	if before := r.URL.Query().Get("before"); before != "" {
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("before must be RFC3339"))
			return
		}
		opt.Before = t
	}

	contracts, err := s.ContractManager.List(ctx, opt)
	if err != nil {
		s.Logger.Error("Unable to list contracts",
			zap.String("UserID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot list contracts"))
		return
	}

	resp.WriteResponse(w, r, contracts)
}

// lookup fetches the contract scoped to the requesting user, writing the
// HTTP error itself when the contract is unavailable
func (s *Service) lookup(w http.ResponseWriter, r *http.Request) *Contract {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	contractID := chi.URLParam(r, "id")

	c, err := s.ContractManager.Get(ctx, GetOption{
		UserID:     claims.ID,
		ContractID: contractID,
	})
	if err != nil {
		s.Logger.Error("Unable to query contract",
			zap.String("UserID", claims.ID),
			zap.String("ContractID", contractID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get contract"))
		return nil
	}
	if c == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find contract with specific ID"))
		return nil
	}
	return c
}

func (s *Service) getContract(w http.ResponseWriter, r *http.Request) {
	c := s.lookup(w, r)
	if c == nil {
		return
	}
	resp.WriteResponse(w, r, c)
}

// UpdateRequest carries the mutable fields of a contract; nil means unchanged
type UpdateRequest struct {
	Vendor           *string `json:"vendor"`
	Title            *string `json:"title"`
	NoticePeriodDays *int    `json:"noticePeriodDays"`
	AutoRenews       *bool   `json:"autoRenews"`
	AnnualValueCents *int64  `json:"annualValueCents"`
}

func (s *Service) updateContract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c := s.lookup(w, r)
	if c == nil {
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	if req.Vendor != nil {
		c.Vendor = *req.Vendor
	}
	if req.Title != nil {
		c.Title = *req.Title
	}
	if req.NoticePeriodDays != nil {
		c.NoticePeriodDays = *req.NoticePeriodDays
	}
	if req.AutoRenews != nil {
		c.AutoRenews = *req.AutoRenews
	}
	if req.AnnualValueCents != nil {
		c.AnnualValueCents = *req.AnnualValueCents
	}

	if err := s.ContractManager.Update(ctx, c); err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot update contract"))
		return
	}

	resp.WriteResponse(w, r, c)
}

// renewContract records that the user handled the renewal. The contract row
// keeps its dates for history; tracking the successor term is a new contract.
func (s *Service) renewContract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	contractID := chi.URLParam(r, "id")

	err := s.ContractManager.SetStatus(ctx, GetOption{
		UserID:     claims.ID,
		ContractID: contractID,
	}, StatusRenewed)
	if err != nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find contract with specific ID"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) terminateContract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	contractID := chi.URLParam(r, "id")

	err := s.ContractManager.SetStatus(ctx, GetOption{
		UserID:     claims.ID,
		ContractID: contractID,
	}, StatusTerminated)
	if err != nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find contract with specific ID"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) uploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c := s.lookup(w, r)
	if c == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, documentBodyLimit)
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := fmt.Sprintf("contracts/%s/%s/document", c.UserID, c.ID)
	if err := s.Bucket.Put(ctx, key, contentType, r.Body); err != nil {
		s.Logger.Error("Unable to store contract document",
			zap.String("ContractID", c.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot store document"))
		return
	}

	c.DocumentKey = key
	if err := s.ContractManager.Update(ctx, c); err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot update contract"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ExtractRequest carries the plain text of the contract document. Text is
// supplied by the caller; this service does not attempt PDF text extraction.
type ExtractRequest struct {
	DocumentText string `json:"documentText" validate:"required"`
}

func (s *Service) extractContract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c := s.lookup(w, r)
	if c == nil {
		return
	}

	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("documentText is required"))
		return
	}

	result, err := s.Extractor.Extract(ctx, req.DocumentText)
	if err != nil {
		s.Logger.Error("Extraction failed",
			zap.String("ContractID", c.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Extraction failed"))
		return
	}

	// only overwrite fields the model actually found
	if result.Vendor != "" {
		c.Vendor = result.Vendor
	}
	if t := result.ParsedStartDate(); !t.IsZero() {
		c.StartDate = t
	}
	if t := result.ParsedEndDate(); !t.IsZero() {
		c.EndDate = t
	}
	if result.NoticePeriodDays > 0 {
		c.NoticePeriodDays = result.NoticePeriodDays
	}
	if result.AnnualValueCents > 0 {
		c.AnnualValueCents = result.AnnualValueCents
	}
	if result.Currency != "" {
		c.Currency = result.Currency
	}
	c.AutoRenews = result.AutoRenews

	if err := s.ContractManager.Update(ctx, c); err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot update contract"))
		return
	}

	clauses := make([]Clause, 0, len(result.Clauses))
	for _, cl := range result.Clauses {
		clauses = append(clauses, Clause{
			Kind:    cl.Kind,
			Summary: cl.Summary,
		})
	}
	if err := s.ContractManager.ReplaceClauses(ctx, c.ID, clauses); err != nil {
		s.Logger.Error("Unable to store extracted clauses",
			zap.String("ContractID", c.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot store clauses"))
		return
	}

	refreshed, err := s.ContractManager.Get(ctx, GetOption{UserID: c.UserID, ContractID: c.ID})
	if err != nil || refreshed == nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	resp.WriteResponse(w, r, refreshed)
}

func (s *Service) generatePacket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	c := s.lookup(w, r)
	if c == nil {
		return
	}

	packet, err := RenderPacket(c, time.Now())
	if err != nil {
		s.Logger.Error("Unable to render renewal packet",
			zap.String("ContractID", c.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot render packet"))
		return
	}

	key := fmt.Sprintf("contracts/%s/%s/packet.txt", c.UserID, c.ID)
	if err := s.Bucket.Put(ctx, key, "text/plain", bytes.NewReader(packet)); err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot store packet"))
		return
	}

	url, err := s.Bucket.PresignDownload(ctx, key, packetLinkExpiry)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot generate download link"))
		return
	}

	email := mail.RenewalPacket(c.Vendor, c.Title, url)
	email.To = claims.Email
	if err := s.Mailer.Send(ctx, email); err != nil {
		s.Logger.Error("Unable to email renewal packet",
			zap.String("ContractID", c.ID),
			zap.Error(err),
		)
		// the packet exists and the link is returned, don't fail the request
	}

	resp.WriteResponse(w, r, struct {
		DownloadURL string `json:"downloadUrl"`
	}{
		DownloadURL: url,
	})
}

// Router will return the routes under the contract API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())

	r.Post("/", s.createContract)
	r.Get("/", s.listContracts)
	r.Get("/{id}", s.getContract)
	r.Patch("/{id}", s.updateContract)
	r.Delete("/{id}", s.terminateContract)
	r.Post("/{id}/renew", s.renewContract)
	r.Put("/{id}/document", s.uploadDocument)
	r.Post("/{id}/extract", s.extractContract)
	r.Post("/{id}/packet", s.generatePacket)

	return r
}
