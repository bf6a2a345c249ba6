package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	LinksCreated      *prometheus.CounterVec
	Verifications     *prometheus.CounterVec
	ContractsSigned   *prometheus.CounterVec
	PDFDownloads      prometheus.Counter
	AuditWriteErrors  prometheus.Counter
	RateLimited       prometheus.Counter
	EmailsSent        *prometheus.CounterVec
	RequestLatency    *prometheus.HistogramVec
	MaintenanceDelete *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers metrics on reg; tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LinksCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signlink_links_created_total",
			Help: "Secure links issued, by source",
		}, []string{"source"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signlink_otp_verifications_total",
			Help: "OTP verification attempts, by outcome",
		}, []string{"outcome"}),
		ContractsSigned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signlink_contracts_signed_total",
			Help: "Contracts persisted, by signature type",
		}, []string{"signature_type"}),
		PDFDownloads: f.NewCounter(prometheus.CounterOpts{
			Name: "signlink_pdf_downloads_total",
			Help: "Signed PDFs served",
		}),
		AuditWriteErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "signlink_audit_write_errors_total",
			Help: "Audit entries that could not be persisted",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "signlink_verify_rate_limited_total",
			Help: "Verify requests rejected by the attempt limiter",
		}),
		EmailsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signlink_emails_total",
			Help: "Link notification emails, by result",
		}, []string{"result"}),
		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signlink_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		MaintenanceDelete: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signlink_maintenance_rows_total",
			Help: "Rows removed or corrected by maintenance, by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncLinkCreated(source string) {
	if m == nil {
		return
	}
	m.LinksCreated.WithLabelValues(source).Inc()
}

func (m *Metrics) IncVerification(outcome string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncContractSigned(signatureType string) {
	if m == nil {
		return
	}
	m.ContractsSigned.WithLabelValues(signatureType).Inc()
}

func (m *Metrics) IncPDFDownload() {
	if m == nil {
		return
	}
	m.PDFDownloads.Inc()
}

func (m *Metrics) IncAuditWriteError() {
	if m == nil {
		return
	}
	m.AuditWriteErrors.Inc()
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func (m *Metrics) IncEmail(result string) {
	if m == nil {
		return
	}
	m.EmailsSent.WithLabelValues(result).Inc()
}

func (m *Metrics) AddMaintenance(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.MaintenanceDelete.WithLabelValues(kind).Add(float64(n))
}
