// Package service assembles the read models behind the operator dashboard.
package service

import (
	"context"
	"time"

	"github.com/mssola/useragent"
	"golang.org/x/sync/errgroup"

	"signlink/internal/audit"
	contractmodels "signlink/internal/contracts/models"
	linkmodels "signlink/internal/links/models"
	dErrors "signlink/pkg/domain-errors"
	"signlink/pkg/requestcontext"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500

	dailyActivityDays  = 7
	monthlyWindow      = 6
	topInterpreterRows = 10
)

type Links interface {
	Stats(ctx context.Context) (linkmodels.Stats, error)
	ListRecent(ctx context.Context, limit, offset int) ([]*linkmodels.SecureLink, error)
}

type Contracts interface {
	Stats(ctx context.Context) (contractmodels.Stats, error)
	ListRecent(ctx context.Context, limit, offset int) ([]contractmodels.Summary, error)
	MonthlySigned(ctx context.Context, since time.Time) ([]contractmodels.MonthlyCount, error)
	TopInterpreters(ctx context.Context, limit int) ([]contractmodels.InterpreterActivity, error)
}

type AuditLog interface {
	List(ctx context.Context, limit, offset int) ([]audit.Entry, error)
	Stats(ctx context.Context, now time.Time) (audit.Stats, error)
	DailyActivity(ctx context.Context, since time.Time) ([]audit.DailyCount, error)
}

// Page is a limit/offset window. Zero values select the defaults.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Overview is the dashboard header.
type Overview struct {
	TotalLinks      int64                                  `json:"totalLinks"`
	ActiveLinks     int64                                  `json:"activeLinks"`
	UsedLinks       int64                                  `json:"usedLinks"`
	ExpiredLinks    int64                                  `json:"expiredLinks"`
	LinksToday      int64                                  `json:"linksToday"`
	SignedContracts int64                                  `json:"signedContracts"`
	SignatureTypes  map[contractmodels.SignatureType]int64 `json:"signatureTypes"`
	TodayActivity   int64                                  `json:"todayActivity"`
	Audit           audit.Stats                            `json:"audit"`
}

// LinkView is a link row with its derived status.
type LinkView struct {
	*linkmodels.SecureLink
	Status string `json:"status"`
}

// AuditView is an audit row with the client parsed out of the User-Agent.
type AuditView struct {
	audit.Entry
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
	Mobile  bool   `json:"mobile"`
	Bot     bool   `json:"bot"`
}

type Analytics struct {
	DailyActivity    []audit.DailyCount                   `json:"dailyActivity"`
	MonthlyContracts []contractmodels.MonthlyCount        `json:"monthlyContracts"`
	TopInterpreters  []contractmodels.InterpreterActivity `json:"topInterpreters"`
}

type Service struct {
	links     Links
	contracts Contracts
	audit     AuditLog
}

func New(links Links, contracts Contracts, auditLog AuditLog) *Service {
	return &Service{links: links, contracts: contracts, audit: auditLog}
}

// Overview runs the three stats queries concurrently.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	now := requestcontext.Now(ctx).UTC()
	g, gctx := errgroup.WithContext(ctx)

	var (
		linkStats     linkmodels.Stats
		contractStats contractmodels.Stats
		auditStats    audit.Stats
	)
	g.Go(func() error {
		var err error
		linkStats, err = s.links.Stats(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		contractStats, err = s.contracts.Stats(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		auditStats, err = s.audit.Stats(gctx, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, internal(err, "Failed to fetch stats")
	}

	types := contractStats.ByType
	if types == nil {
		types = map[contractmodels.SignatureType]int64{}
	}
	return &Overview{
		TotalLinks:      linkStats.Total,
		ActiveLinks:     linkStats.Active,
		UsedLinks:       linkStats.Used,
		ExpiredLinks:    linkStats.Expired,
		LinksToday:      linkStats.Today,
		SignedContracts: contractStats.Total,
		SignatureTypes:  types,
		TodayActivity:   auditStats.Today,
		Audit:           auditStats,
	}, nil
}

func (s *Service) Links(ctx context.Context, page Page) ([]LinkView, error) {
	page = page.normalize()
	links, err := s.links.ListRecent(ctx, page.Limit, page.Offset)
	if err != nil {
		return nil, internal(err, "Failed to fetch links")
	}
	now := requestcontext.Now(ctx)
	out := make([]LinkView, 0, len(links))
	for _, l := range links {
		out = append(out, LinkView{SecureLink: l, Status: l.Status(now)})
	}
	return out, nil
}

func (s *Service) Contracts(ctx context.Context, page Page) ([]contractmodels.Summary, error) {
	page = page.normalize()
	out, err := s.contracts.ListRecent(ctx, page.Limit, page.Offset)
	if err != nil {
		return nil, internal(err, "Failed to fetch contracts")
	}
	if out == nil {
		out = []contractmodels.Summary{}
	}
	return out, nil
}

func (s *Service) AuditLogs(ctx context.Context, page Page) ([]AuditView, error) {
	page = page.normalize()
	entries, err := s.audit.List(ctx, page.Limit, page.Offset)
	if err != nil {
		return nil, internal(err, "Failed to fetch logs")
	}
	out := make([]AuditView, 0, len(entries))
	for _, e := range entries {
		out = append(out, describeClient(e))
	}
	return out, nil
}

func describeClient(e audit.Entry) AuditView {
	v := AuditView{Entry: e}
	if e.UserAgent == "" {
		return v
	}
	ua := useragent.New(e.UserAgent)
	name, version := ua.Browser()
	if name != "" {
		v.Browser = name
		if version != "" {
			v.Browser += " " + version
		}
	}
	v.OS = ua.OS()
	v.Mobile = ua.Mobile()
	v.Bot = ua.Bot()
	return v
}

// Analytics returns 7 days of audit activity, 6 months of signed contracts
// and the 10 busiest interpreters.
func (s *Service) Analytics(ctx context.Context) (*Analytics, error) {
	now := requestcontext.Now(ctx).UTC()
	daySince := audit.StartOfDay(now).AddDate(0, 0, -(dailyActivityDays - 1))
	monthSince := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(monthlyWindow - 1), 0)

	g, gctx := errgroup.WithContext(ctx)
	res := &Analytics{}
	g.Go(func() error {
		var err error
		res.DailyActivity, err = s.audit.DailyActivity(gctx, daySince)
		return err
	})
	g.Go(func() error {
		var err error
		res.MonthlyContracts, err = s.contracts.MonthlySigned(gctx, monthSince)
		return err
	})
	g.Go(func() error {
		var err error
		res.TopInterpreters, err = s.contracts.TopInterpreters(gctx, topInterpreterRows)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, internal(err, "Failed to fetch analytics")
	}
	if res.DailyActivity == nil {
		res.DailyActivity = []audit.DailyCount{}
	}
	if res.MonthlyContracts == nil {
		res.MonthlyContracts = []contractmodels.MonthlyCount{}
	}
	if res.TopInterpreters == nil {
		res.TopInterpreters = []contractmodels.InterpreterActivity{}
	}
	return res, nil
}

func internal(err error, msg string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
