package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"signlink/internal/audit"
	auditmemory "signlink/internal/audit/store/memory"
	contractmodels "signlink/internal/contracts/models"
	contractstore "signlink/internal/contracts/store"
	linkmodels "signlink/internal/links/models"
	linkservice "signlink/internal/links/service"
	linkstore "signlink/internal/links/store"
	dErrors "signlink/pkg/domain-errors"
	"signlink/pkg/requestcontext"
)

type SigningServiceSuite struct {
	suite.Suite
	links     *linkstore.InMemoryStore
	contracts *contractstore.InMemoryStore
	auditLog  *auditmemory.InMemoryStore
	registry  *linkservice.Registry
	svc       *Service
	now       time.Time
	ctx       context.Context
}

func TestSigningServiceSuite(t *testing.T) {
	suite.Run(t, new(SigningServiceSuite))
}

func (s *SigningServiceSuite) SetupTest() {
	s.links = linkstore.NewInMemory()
	s.contracts = contractstore.NewInMemory()
	s.auditLog = auditmemory.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.registry = linkservice.New(s.links, linkservice.WithOTPGenerator(func() (string, error) { return "123456", nil }))
	s.svc = New(s.registry, s.contracts, NewShardedTx(s.links, s.contracts),
		audit.NewRecorder(s.auditLog, logger, nil), WithLogger(logger))
	s.now = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *SigningServiceSuite) newLink(ttl time.Duration) *linkmodels.SecureLink {
	link, err := s.registry.Create(s.ctx, "a@x.com", ttl)
	s.Require().NoError(err)
	return link
}

func (s *SigningServiceSuite) at(d time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.now.Add(d))
}

func (s *SigningServiceSuite) lastDetails(linkID string) (audit.Action, any) {
	entries, err := s.auditLog.List(context.Background(), 1, 0)
	s.Require().NoError(err)
	s.Require().NotEmpty(entries)
	s.Equal(linkID, entries[0].LinkID)
	return entries[0].Action, entries[0].Details.Payload()
}

func (s *SigningServiceSuite) completeReq(linkID string) CompleteRequest {
	return CompleteRequest{
		LinkID:          linkID,
		InterpreterName: "Ana Maria Souza",
		SignatureType:   contractmodels.SignatureDraw,
		SignatureData:   "data:image/png;base64,iVBORw0KGgo=",
		PDFBase64:       base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 test")),
	}
}

func (s *SigningServiceSuite) TestVerifySuccess() {
	link := s.newLink(time.Hour)

	res, err := s.svc.Verify(s.at(time.Minute), link.ID, "123456")
	s.Require().NoError(err)
	s.True(res.Success)
	s.Equal("a@x.com", res.Email)
	s.Equal(link.CreatedAt, res.CreatedAt)

	action, d := s.lastDetails(link.ID)
	s.Equal(audit.ActionOTPVerified, action)
	s.Equal(map[string]any{"email": "a@x.com"}, d)
}

func (s *SigningServiceSuite) TestVerifyTrimsWhitespace() {
	link := s.newLink(time.Hour)
	res, err := s.svc.Verify(s.ctx, " "+link.ID+" ", " 123456 ")
	s.Require().NoError(err)
	s.True(res.Success)
}

func (s *SigningServiceSuite) TestVerifyIsRepeatableUntilCompletion() {
	link := s.newLink(time.Hour)

	for i := 0; i < 3; i++ {
		_, err := s.svc.Verify(s.ctx, link.ID, "123456")
		s.Require().NoError(err)
	}

	_, err := s.svc.Complete(s.ctx, s.completeReq(link.ID))
	s.Require().NoError(err)

	_, err = s.svc.Verify(s.ctx, link.ID, "123456")
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyUsed))
}

func (s *SigningServiceSuite) TestVerifyCheckOrder() {
	tests := []struct {
		name   string
		linkID func(*linkmodels.SecureLink) string
		otp    string
		used   bool
		offset time.Duration
		code   dErrors.Code
		reason string
	}{
		{name: "missing otp", linkID: func(l *linkmodels.SecureLink) string { return l.ID }, otp: " ", code: dErrors.CodeValidation, reason: "missing_params"},
		{name: "unknown link", linkID: func(*linkmodels.SecureLink) string { return "ffffffffffffffffffffffffffffffff" }, otp: "000000", code: dErrors.CodeNotFound, reason: "link_not_found"},
		{name: "expired beats wrong otp", linkID: func(l *linkmodels.SecureLink) string { return l.ID }, otp: "000000", offset: 2 * time.Hour, code: dErrors.CodeExpired, reason: "link_expired"},
		{name: "expired beats right otp", linkID: func(l *linkmodels.SecureLink) string { return l.ID }, otp: "123456", offset: time.Hour, code: dErrors.CodeExpired, reason: "link_expired"},
		{name: "expired beats used", linkID: func(l *linkmodels.SecureLink) string { return l.ID }, otp: "123456", used: true, offset: 2 * time.Hour, code: dErrors.CodeExpired, reason: "link_expired"},
		{name: "used beats wrong otp", linkID: func(l *linkmodels.SecureLink) string { return l.ID }, otp: "000000", used: true, code: dErrors.CodeAlreadyUsed, reason: "link_already_used"},
		{name: "wrong otp", linkID: func(l *linkmodels.SecureLink) string { return l.ID }, otp: "654321", code: dErrors.CodeInvalidCode, reason: "invalid_otp"},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			link := s.newLink(time.Hour)
			if tc.used {
				s.Require().NoError(s.registry.MarkUsed(s.ctx, link.ID))
			}
			id := tc.linkID(link)

			_, err := s.svc.Verify(s.at(tc.offset), id, tc.otp)
			s.Require().Error(err)
			s.Equal(tc.code, dErrors.CodeOf(err))

			action, d := s.lastDetails(id)
			s.Equal(audit.ActionOTPVerifyFailed, action)
			s.Equal(tc.reason, d.(map[string]any)["reason"])
		})
	}
}

func (s *SigningServiceSuite) TestVerifyMissingParamsDetails() {
	_, err := s.svc.Verify(s.ctx, "", "123456")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, d := s.lastDetails("")
	s.Equal(map[string]any{"reason": "missing_params", "linkId": false, "otp": true}, d)
}

type brokenLinks struct{}

func (brokenLinks) FindByID(context.Context, string) (*linkmodels.SecureLink, error) {
	return nil, dErrors.Wrap(errors.New("connection reset"), dErrors.CodeInternal, "failed to load secure link")
}

func (brokenLinks) MarkUsed(context.Context, string) error { return nil }

func (s *SigningServiceSuite) TestVerifyStorageFailure() {
	svc := New(brokenLinks{}, s.contracts, NewShardedTx(s.links, s.contracts), audit.NewRecorder(s.auditLog, nil, nil))

	_, err := svc.Verify(s.ctx, "abc", "123456")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	action, _ := s.lastDetails("abc")
	s.Equal(audit.ActionOTPVerifyError, action)
}

func (s *SigningServiceSuite) TestCompleteHappyPath() {
	link := s.newLink(time.Hour)
	req := s.completeReq(link.ID)

	sum, err := s.svc.Complete(s.ctx, req)
	s.Require().NoError(err)
	s.True(sum.HasPDF)
	s.Equal(s.now, sum.SignedAt)

	stored, err := s.links.FindByID(s.ctx, link.ID)
	s.Require().NoError(err)
	s.True(stored.Used)

	action, d := s.lastDetails(link.ID)
	s.Equal(audit.ActionContractSigned, action)
	s.Equal(map[string]any{
		"interpreterName": "Ana Maria Souza",
		"signatureType":   "draw",
		"pdfSize":         json.Number(strconv.Itoa(len(req.PDFBase64))),
	}, d)
}

func (s *SigningServiceSuite) TestCompleteTwiceConflicts() {
	link := s.newLink(time.Hour)
	_, err := s.svc.Complete(s.ctx, s.completeReq(link.ID))
	s.Require().NoError(err)

	second := s.completeReq(link.ID)
	second.InterpreterName = "Someone Else"
	_, err = s.svc.Complete(s.ctx, second)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	stats, err := s.contracts.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), stats.Total)

	c, err := s.svc.Contract(s.ctx, link.ID)
	s.Require().NoError(err)
	s.Equal("Ana Maria Souza", c.InterpreterName)

	_, d := s.lastDetails(link.ID)
	s.Equal(map[string]any{"reason": "already_signed"}, d)
}

func (s *SigningServiceSuite) TestConcurrentCompleteStoresOneContract() {
	link := s.newLink(time.Hour)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.Complete(s.ctx, s.completeReq(link.ID))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, ok)
	s.Equal(workers-1, conflicts)
	stats, err := s.contracts.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), stats.Total)
}

func (s *SigningServiceSuite) TestCompleteValidation() {
	link := s.newLink(time.Hour)

	missing := s.completeReq(link.ID)
	missing.PDFBase64 = ""
	_, err := s.svc.Complete(s.ctx, missing)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	_, d := s.lastDetails(link.ID)
	s.Equal(map[string]any{"reason": "missing_required_fields"}, d)

	badType := s.completeReq(link.ID)
	badType.SignatureType = "stamp"
	_, err = s.svc.Complete(s.ctx, badType)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	_, d = s.lastDetails(link.ID)
	s.Equal(map[string]any{"reason": "invalid_signature_type"}, d)
}

func (s *SigningServiceSuite) TestCompleteUnknownLink() {
	_, err := s.svc.Complete(s.ctx, s.completeReq("0000"))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	ok, err := s.contracts.ExistsForLink(s.ctx, "0000")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *SigningServiceSuite) TestContractHidesPDF() {
	link := s.newLink(time.Hour)
	_, err := s.svc.Complete(s.ctx, s.completeReq(link.ID))
	s.Require().NoError(err)

	sum, err := s.svc.Contract(s.ctx, link.ID)
	s.Require().NoError(err)
	s.True(sum.HasPDF)
	s.Empty(sum.SignatureData)

	_, err = s.svc.Contract(s.ctx, "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	_, err = s.svc.Contract(s.ctx, "missing")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *SigningServiceSuite) TestDownloadPDF() {
	link := s.newLink(time.Hour)
	_, err := s.svc.Complete(s.ctx, s.completeReq(link.ID))
	s.Require().NoError(err)

	doc, err := s.svc.DownloadPDF(s.ctx, link.ID)
	s.Require().NoError(err)
	s.Equal([]byte("%PDF-1.4 test"), doc.Content)
	s.Equal("contract-Ana-Maria-Souza-2026-09-01.pdf", doc.FileName)

	action, d := s.lastDetails(link.ID)
	s.Equal(audit.ActionPDFDownloaded, action)
	s.Equal(map[string]any{"interpreterName": "Ana Maria Souza"}, d)
}

func (s *SigningServiceSuite) TestDownloadPDFFailures() {
	_, err := s.svc.DownloadPDF(s.ctx, "missing")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	action, d := s.lastDetails("missing")
	s.Equal(audit.ActionPDFDownloadFailed, action)
	s.Equal(map[string]any{"reason": "contract_not_found"}, d)

	link := s.newLink(time.Hour)
	req := s.completeReq(link.ID)
	req.PDFBase64 = "not*base64"
	_, err = s.svc.Complete(s.ctx, req)
	s.Require().NoError(err)

	_, err = s.svc.DownloadPDF(s.ctx, link.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	_, d = s.lastDetails(link.ID)
	s.Equal(map[string]any{"reason": "invalid_pdf_encoding"}, d)
}

func (s *SigningServiceSuite) TestDecodeDataURI() {
	b, err := decodePDF("data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("%PDF")))
	s.Require().NoError(err)
	s.Equal([]byte("%PDF"), b)
}

func (s *SigningServiceSuite) TestMarkUsed() {
	link := s.newLink(time.Hour)

	s.Require().NoError(s.svc.MarkUsed(s.ctx, link.ID))
	s.Require().NoError(s.svc.MarkUsed(s.ctx, link.ID))
	action, _ := s.lastDetails(link.ID)
	s.Equal(audit.ActionLinkMarkedUsed, action)

	s.True(dErrors.HasCode(s.svc.MarkUsed(s.ctx, ""), dErrors.CodeValidation))
	s.True(dErrors.HasCode(s.svc.MarkUsed(s.ctx, "nope"), dErrors.CodeNotFound))
}

func (s *SigningServiceSuite) TestShardedTxRejectsCancelledContext() {
	tx := NewShardedTx(s.links, s.contracts)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := tx.RunInTx(ctx, func(context.Context, TxStores) error {
		called = true
		return nil
	})
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	s.False(called)
}
