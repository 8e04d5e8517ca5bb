package circulation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencirc/circ/pkg/models"
)

func TestStructuredErrorsMatchSentinels(t *testing.T) {
	assert.ErrorIs(t, &LoanLimitError{Limit: 3}, ErrPatronLoanLimit)
	assert.ErrorIs(t, &HoldLimitError{Limit: 5}, ErrPatronHoldLimit)
	assert.ErrorIs(t, &OutstandingFinesError{Fines: 10, Max: 5}, ErrOutstandingFines)
	assert.ErrorIs(t, &BlockedError{Reason: models.BlockReasonSuspended}, ErrPatronBlocked)
	assert.ErrorIs(t, &ConfigurationError{Collection: "c"}, ErrConfigurationError)

	// Wrapped causes stay reachable.
	cause := errors.New("boom")
	assert.ErrorIs(t, &ConfigurationError{Collection: "c", Err: cause}, cause)
	assert.ErrorIs(t, &RemoteInitiatedServerError{Protocol: "Fake", Err: cause}, cause)
}

func TestErrorsSurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("borrow failed: %w", &LoanLimitError{Limit: 2})
	assert.ErrorIs(t, wrapped, ErrPatronLoanLimit)

	var limitErr *LoanLimitError
	assert.ErrorAs(t, wrapped, &limitErr)
	assert.Equal(t, 2, limitErr.Limit)
}

func TestFormatMapLookup(t *testing.T) {
	formats := FormatMap{
		{ContentType: models.EPUBMediaType, DRMScheme: models.AdobeDRM}: "ebook-epub-adobe",
		{ContentType: models.PDFMediaType, DRMScheme: models.NoDRM}:     "ebook-pdf-open",
	}

	code, err := formats.Lookup(&models.DeliveryMechanism{
		ContentType: models.EPUBMediaType,
		DRMScheme:   models.AdobeDRM,
	})
	assert.NoError(t, err)
	assert.Equal(t, "ebook-epub-adobe", code)

	_, err = formats.Lookup(&models.DeliveryMechanism{
		ContentType: models.AudiobookManifestMediaType,
		DRMScheme:   models.NoDRM,
	})
	var mechErr *DeliveryMechanismError
	assert.ErrorAs(t, err, &mechErr)
	assert.Equal(t, models.AudiobookManifestMediaType, mechErr.ContentType)

	_, err = formats.Lookup(nil)
	assert.ErrorAs(t, err, &mechErr)
}
