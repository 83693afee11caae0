package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"signlane/internal/bulk"
	"signlane/internal/engine"
	"signlane/internal/scheduler"
	"signlane/pkg/authn"
	"signlane/pkg/domain"
	"signlane/pkg/httpx"
	"signlane/pkg/webhooks"
)

type api struct {
	engine   *engine.Engine
	bulk     *bulk.Coordinator
	sched    *scheduler.Scheduler
	auth     authn.Authenticator
	verifier *webhooks.Verifier
	log      *zap.Logger
}

func (a *api) router() http.Handler {
	r := chi.NewRouter()
	r.Use(a.requestLogger)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })

	r.Route("/esign", func(rt chi.Router) {
		rt.Post("/requests", a.createRequest)
		rt.Get("/requests", a.listRequests)
		rt.Get("/requests/search", a.searchRequests)
		rt.Get("/requests/{request_id}", a.getRequest)
		rt.Get("/requests/{request_id}/audit", a.auditTrail)
		rt.Get("/requests/{request_id}/compliance", a.compliance)
		rt.Get("/requests/{request_id}/deadline", a.deadline)

		rt.Post("/requests/{request_id}/signers/{signer_id}:sign", a.sign)
		rt.Post("/requests/{request_id}/signers/{signer_id}:reject", a.rejectSigner)
		rt.Post("/requests/{request_id}/witness:sign", a.signWitness)

		rt.Post("/requests/{request_id}:approve", a.requireAdmin(a.approve))
		rt.Post("/requests/{request_id}:reject", a.requireAdmin(a.reject))
		rt.Post("/requests/{request_id}:extend", a.requireAdmin(a.extend))
		rt.Post("/requests:bulk", a.requireAdmin(a.applyBulk))
		rt.Post("/scheduler:sweep", a.requireAdmin(a.sweep))

		rt.Post("/webhooks/verification", a.verificationWebhook)
		rt.Post("/reminders/{reminder_id}:status", a.reminderStatus)
	})
	return r
}

func (a *api) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (a *api) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := a.auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil || !authn.HasScope(id.Scopes, authn.ScopeAdmin) {
			httpx.WriteError(w, 401, "unauthorized", "admin credentials required", nil)
			return
		}
		next(w, r)
	}
}

func actorFrom(r *http.Request) domain.Actor {
	return domain.Actor{
		UserID:    r.Header.Get("X-User-Id"),
		Name:      r.Header.Get("X-User-Name"),
		Email:     r.Header.Get("X-User-Email"),
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type createRequestBody struct {
	DocumentTitle   string            `json:"document_title"`
	DocumentURL     string            `json:"document_url"`
	Signers         []createSignerDTO `json:"signers"`
	DueDate         time.Time         `json:"due_date"`
	RequiresWitness bool              `json:"requires_witness"`
	WitnessEmail    string            `json:"witness_email"`
	WitnessName     string            `json:"witness_name"`
	IsUrgent        bool              `json:"is_urgent"`
	Message         string            `json:"message"`
	Metadata        map[string]any    `json:"metadata"`
}

type createSignerDTO struct {
	SignerID string `json:"signer_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

func (a *api) createRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := httpx.ReadJSON(r, &body); err != nil {
		httpx.WriteError(w, 400, "bad_json", err.Error(), nil)
		return
	}
	in := domain.CreateInput{
		DocumentTitle:   body.DocumentTitle,
		DocumentURL:     body.DocumentURL,
		DueDate:         body.DueDate,
		RequiresWitness: body.RequiresWitness,
		WitnessEmail:    body.WitnessEmail,
		WitnessName:     body.WitnessName,
		IsUrgent:        body.IsUrgent,
		Message:         body.Message,
		Metadata:        body.Metadata,
	}
	for _, s := range body.Signers {
		in.Signers = append(in.Signers, domain.SignerInput{
			SignerID: s.SignerID,
			Name:     s.Name,
			Email:    s.Email,
			Role:     domain.SignerRole(s.Role),
		})
	}
	req, err := a.engine.Create(r.Context(), in, actorFrom(r))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "request": req})
}

func (a *api) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := a.engine.Get(r.Context(), chi.URLParam(r, "request_id"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "request": req})
}

func (a *api) listRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := engine.Filter{
		SignerEmail:   q.Get("signer_email"),
		CreatedBy:     q.Get("created_by"),
		DocumentTitle: q.Get("document_title"),
	}
	for _, s := range strings.Split(q.Get("status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			f.Statuses = append(f.Statuses, domain.RequestStatus(s))
		}
	}
	var parseErr error
	parseTime := func(key string) *time.Time {
		raw := q.Get(key)
		if raw == "" {
			return nil
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			parseErr = &domain.ValidationError{Field: key, Reason: "must be RFC3339"}
			return nil
		}
		return &t
	}
	parseBool := func(key string) *bool {
		raw := q.Get(key)
		if raw == "" {
			return nil
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			parseErr = &domain.ValidationError{Field: key, Reason: "must be a boolean"}
			return nil
		}
		return &b
	}
	f.CreatedAfter = parseTime("created_after")
	f.CreatedBefore = parseTime("created_before")
	f.IsUrgent = parseBool("is_urgent")
	f.RequiresWitness = parseBool("requires_witness")
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	if parseErr != nil {
		httpx.WriteDomainError(w, parseErr)
		return
	}
	page, err := a.engine.List(r.Context(), f)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, page)
}

func (a *api) searchRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	page, err := a.engine.Search(r.Context(), q.Get("q"), limit, offset)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, page)
}

type signBody struct {
	SignatureData string `json:"signature_data"`
	Method        string `json:"method"`
	IPAddress     string `json:"ip_address"`
}

func (a *api) signInput(r *http.Request, body signBody) domain.SignInput {
	ip := body.IPAddress
	if ip == "" {
		ip = clientIP(r)
	}
	return domain.SignInput{SignatureData: body.SignatureData, Method: domain.SignatureMethod(body.Method), IPAddress: ip}
}

func (a *api) sign(w http.ResponseWriter, r *http.Request) {
	var body signBody
	if err := httpx.ReadJSON(r, &body); err != nil {
		httpx.WriteError(w, 400, "bad_json", err.Error(), nil)
		return
	}
	req, err := a.engine.Sign(r.Context(), chi.URLParam(r, "request_id"), chi.URLParam(r, "signer_id"), a.signInput(r, body), actorFrom(r))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "request": req})
}

func (a *api) rejectSigner(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := httpx.ReadJSON(r, &body); err != nil {
		httpx.WriteError(w, 400, "bad_json", err.Error(), nil)
		return
	}
	req, err := a.engine.RejectSigner(r.Context(), chi.URLParam(r, "request_id"), chi.URLParam(r, "signer_id"), body.Reason, actorFrom(r))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "request": req})
}

func (a *api) signWitness(w http.ResponseWriter, r *http.Request) {
	var body signBody
	if err := httpx.ReadJSON(r, &body); err != nil {
		httpx.WriteError(w, 400, "bad_json", err.Error(), nil)
		return
	}
	req, err := a.engine.SignWitness(r.Context(), chi.URLParam(r, "request_id"), a.signInput(r, body), actorFrom(r))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "request": req})
}

func (a *api) approve(w http.ResponseWriter, r *http.Request) {
	req, err := a.engine.Approve(r.Context(), chi.URLParam(r, "request_id"), actorFrom(r))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "request": req})
}

func (a *api) reject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := httpx.ReadJSON(r, &body); err != nil {
		httpx.WriteError(w, 400, "bad_json", err.Error(), nil)
		return
	}
	req, err := a.engine.Reject(r.Context(), chi.URLParam(r, "request_id"), body.Reason, actorFrom(r))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "request": req})
}

func (a *api) extend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NewDueDate time.Time `json:"new_due_date"`
	}
	if err := httpx.ReadJSON(r, &body); err != nil {
		httpx.WriteError(w, 400, "bad_json", err.Error(), nil)
		return
	}
	req, err := a.engine.ExtendDeadline(r.Context(), chi.URLParam(r, "request_id"), body.NewDueDate, actorFrom(r))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "request": req})
}

func (a *api) auditTrail(w http.ResponseWriter, r *http.Request) {
	trail, brokenAt, err := a.engine.AuditTrail(r.Context(), chi.URLParam(r, "request_id"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"request_id":   httpx.NewRequestID(),
		"entries":      trail,
		"chain_intact": brokenAt == -1,
		"broken_at":    brokenAt,
	})
}

func (a *api) compliance(w http.ResponseWriter, r *http.Request) {
	c, err := a.engine.Compliance(r.Context(), chi.URLParam(r, "request_id"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, c)
}

func (a *api) deadline(w http.ResponseWriter, r *http.Request) {
	d, err := a.engine.Deadline(r.Context(), chi.URLParam(r, "request_id"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, d)
}

func (a *api) applyBulk(w http.ResponseWriter, r *http.Request) {
	var body bulk.Request
	if err := httpx.ReadJSON(r, &body); err != nil {
		httpx.WriteError(w, 400, "bad_json", err.Error(), nil)
		return
	}
	res, err := a.bulk.Apply(r.Context(), body, actorFrom(r))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, res)
}

func (a *api) sweep(w http.ResponseWriter, r *http.Request) {
	res, err := a.sched.Sweep(r.Context())
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, res)
}

func (a *api) verificationWebhook(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpx.WriteError(w, 400, "bad_body", "cannot read body", nil)
		return
	}
	res := a.verifier.Verify(r.Header, rawBody)
	if !res.Valid {
		a.log.Warn("webhook signature rejected", zap.Any("details", res.Details))
		httpx.WriteError(w, 401, "invalid_signature", "webhook signature verification failed", res.Details)
		return
	}
	var body struct {
		RequestID string `json:"request_id"`
		SignerID  string `json:"signer_id"`
		Outcome   string `json:"outcome"`
	}
	if err := unmarshalStrict(rawBody, &body); err != nil {
		httpx.WriteError(w, 400, "bad_json", err.Error(), nil)
		return
	}
	req, err := a.engine.MarkVerified(r.Context(), body.RequestID, body.SignerID, domain.VerificationStatus(body.Outcome))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "request": req, "event_id": res.EventID})
}

func unmarshalStrict(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (a *api) reminderStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := httpx.ReadJSON(r, &body); err != nil {
		httpx.WriteError(w, 400, "bad_json", err.Error(), nil)
		return
	}
	rem, err := a.engine.SetReminderStatus(r.Context(), chi.URLParam(r, "reminder_id"), domain.ReminderStatus(body.Status))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "reminder": rem})
}
