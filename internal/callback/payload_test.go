package callback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidecraft/exchangeset/internal/catalogue"
)

func intp(n int) *int { return &n }

func validSuccess() Payload {
	return Payload{
		ID: "batch-1",
		Data: Data{
			Links: Links{
				BatchStatus:  &Link{Href: "https://fss.example/v1/jobs/batch-1"},
				BatchDetails: &Link{Href: "https://fss.example/v1/jobs/batch-1/details"},
				PrimaryFile:  &Link{Href: "https://fss.example/files/V01X01.zip"},
			},
			RequestedProductCount: 3,
			ExchangeSetCellCount:  2,
			RequestedProductsNotInExchangeSet: []catalogue.Exclusion{
				{Name: "GB000001", Reason: catalogue.ReasonWithdrawn},
			},
		},
	}
}

func TestValidateSuccessPayload(t *testing.T) {
	require.NoError(t, validSuccess().Validate())
}

func TestValidateRequiresID(t *testing.T) {
	p := validSuccess()
	p.ID = ""
	assert.ErrorIs(t, p.Validate(), ErrInvalidPayload)
}

func TestValidateRequiresBatchLinks(t *testing.T) {
	t.Run("missing status", func(t *testing.T) {
		p := validSuccess()
		p.Data.Links.BatchStatus = nil
		assert.ErrorIs(t, p.Validate(), ErrInvalidPayload)
	})
	t.Run("empty details href", func(t *testing.T) {
		p := validSuccess()
		p.Data.Links.BatchDetails = &Link{}
		assert.ErrorIs(t, p.Validate(), ErrInvalidPayload)
	})
}

func TestValidatePrimaryFileLinkRules(t *testing.T) {
	t.Run("cells without link rejected", func(t *testing.T) {
		p := validSuccess()
		p.Data.Links.PrimaryFile = nil
		assert.ErrorIs(t, p.Validate(), ErrInvalidPayload)
	})
	t.Run("empty set needs no link", func(t *testing.T) {
		p := validSuccess()
		p.Data.Links.PrimaryFile = nil
		p.Data.ExchangeSetCellCount = 0
		assert.NoError(t, p.Validate())
	})
}

func TestValidateOverlayFileLinkRules(t *testing.T) {
	t.Run("overlay cells without link rejected", func(t *testing.T) {
		p := validSuccess()
		p.Data.RequestedOverlayProductCount = intp(1)
		p.Data.OverlayExchangeSetCellCount = intp(1)
		assert.ErrorIs(t, p.Validate(), ErrInvalidPayload)
	})
	t.Run("zero overlay cells need no link", func(t *testing.T) {
		p := validSuccess()
		p.Data.RequestedOverlayProductCount = intp(1)
		p.Data.OverlayExchangeSetCellCount = intp(0)
		assert.NoError(t, p.Validate())
	})
}

func TestValidateErrorPayload(t *testing.T) {
	base := Payload{
		ID:      "batch-err",
		IsError: true,
		Data: Data{
			Links: Links{
				BatchStatus:  &Link{Href: "https://fss.example/v1/jobs/batch-err"},
				BatchDetails: &Link{Href: "https://fss.example/v1/jobs/batch-err/details"},
			},
			RequestedProductCount: 3,
		},
	}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, base.Validate())
	})
	t.Run("file link rejected", func(t *testing.T) {
		p := base
		p.Data.Links.PrimaryFile = &Link{Href: "https://fss.example/files/V01X01.zip"}
		assert.ErrorIs(t, p.Validate(), ErrInvalidPayload)
	})
	t.Run("nonzero cells rejected", func(t *testing.T) {
		p := base
		p.Data.ExchangeSetCellCount = 1
		assert.ErrorIs(t, p.Validate(), ErrInvalidPayload)
	})
}
