package models

import (
	"strings"
	"time"
)

// SignatureType is how the signer produced the signature.
type SignatureType string

const (
	SignatureText   SignatureType = "text"
	SignatureUpload SignatureType = "upload"
	SignatureDraw   SignatureType = "draw"
)

func (t SignatureType) Valid() bool {
	switch t {
	case SignatureText, SignatureUpload, SignatureDraw:
		return true
	}
	return false
}

// SignedContract is the persisted signature artifact. At most one exists per link.
// PDFContent is base64 text and only leaves the service through the PDF download.
type SignedContract struct {
	ID              int64
	LinkID          string
	InterpreterName string
	SignatureType   SignatureType
	SignatureData   string
	PDFContent      string
	SignedAt        time.Time
}

// Summary is the read model: metadata plus a hasPdf flag.
type Summary struct {
	ID              int64         `json:"id"`
	LinkID          string        `json:"linkId"`
	InterpreterName string        `json:"interpreterName"`
	SignatureType   SignatureType `json:"signatureType"`
	SignatureData   string        `json:"signatureData,omitempty"`
	HasPDF          bool          `json:"hasPdf"`
	SignedAt        time.Time     `json:"signedAt"`
	Email           string        `json:"email,omitempty"`
}

func (c *SignedContract) Summary() Summary {
	return Summary{
		ID:              c.ID,
		LinkID:          c.LinkID,
		InterpreterName: c.InterpreterName,
		SignatureType:   c.SignatureType,
		SignatureData:   c.SignatureData,
		HasPDF:          strings.TrimSpace(c.PDFContent) != "",
		SignedAt:        c.SignedAt,
	}
}

// Stats counts contracts overall and by signature type.
type Stats struct {
	Total  int64                   `json:"total"`
	ByType map[SignatureType]int64 `json:"signatureTypes"`
}

// MonthlyCount is one bucket of the monthly signing series. Month is YYYY-MM.
type MonthlyCount struct {
	Month string `json:"month"`
	Count int64  `json:"count"`
}

// InterpreterActivity ranks signers by number of contracts.
type InterpreterActivity struct {
	InterpreterName string    `json:"interpreterName"`
	ContractCount   int64     `json:"contractCount"`
	LastSigned      time.Time `json:"lastSigned"`
}
