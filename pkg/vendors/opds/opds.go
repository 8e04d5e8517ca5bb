// Package opds implements the "OPDS for Distributors" vendor protocol:
// distributors that publish an authenticated OPDS feed with unlimited
// simultaneous access. Loans are indefinite, holds never exist, and
// fulfillment mints short-lived bearer tokens for the distributor's CDN.
package opds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/opencirc/circ/pkg/circulation"
	"github.com/opencirc/circ/pkg/models"
	"github.com/opencirc/circ/pkg/store"
)

// ProtocolName is the protocol string collections use to select this
// adapter.
const ProtocolName = "OPDS for Distributors"

const defaultHTTPTimeout = 30 * time.Second

func init() {
	circulation.RegisterProtocol(ProtocolName, func(st store.Store, collection *models.Collection) (circulation.VendorAdapter, error) {
		return New(st, collection)
	})
}

// Settings are the integration settings this adapter reads from its
// collection.
type Settings struct {
	// ExternalAccountID is the distributor's OPDS feed URL.
	ExternalAccountID string `mapstructure:"external_account_id" validate:"required,url"`

	// TokenURL is the OAuth client-credentials endpoint bearer tokens are
	// minted from.
	TokenURL string `mapstructure:"token_url" validate:"required,url"`

	Username string `mapstructure:"username" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
}

// Adapter implements circulation.VendorAdapter for OPDS distributors.
// Safe for concurrent use; the bearer token cache is shared across
// requests.
type Adapter struct {
	st         store.Store
	collection *models.Collection
	settings   Settings
	dataSource string

	client *http.Client
	tokens *tokenSource
}

var validate = validator.New()

// New builds the adapter from the collection's integration settings.
func New(st store.Store, collection *models.Collection) (*Adapter, error) {
	var settings Settings
	if err := collection.DecodeSettings(&settings); err != nil {
		return nil, err
	}
	if err := validate.Struct(&settings); err != nil {
		return nil, fmt.Errorf("invalid settings for collection %q: %w", collection.Name, err)
	}

	client := &http.Client{Timeout: defaultHTTPTimeout}
	a := &Adapter{
		st:         st,
		collection: collection,
		settings:   settings,
		dataSource: collection.DataSource,
		client:     client,
	}
	a.tokens = newTokenSource(st, client, settings, collection)
	return a, nil
}

func (a *Adapter) Protocol() string {
	return ProtocolName
}

func (a *Adapter) Capabilities() circulation.Capabilities {
	return circulation.Capabilities{
		// The patron commits to a format when downloading, not at checkout.
		SetMechanismAt: circulation.MechanismStepFulfill,

		// There are no real holds to get stuck in.
		CanRevokeHoldWhenReserved: true,
	}
}

// Checkout grants an indefinite loan. The distributor imposes no copy
// limits and keeps no per-patron loan state, so the loan exists purely on
// our side.
func (a *Adapter) Checkout(_ context.Context, _ *models.Patron, _ string, pool *models.LicensePool, _ *models.LicensePoolDeliveryMechanism) (*circulation.LoanInfo, *circulation.HoldInfo, error) {
	if fulfillableDelivery(pool) == nil {
		return nil, nil, circulation.ErrNoLicenses
	}

	now := time.Now()
	return &circulation.LoanInfo{
		CirculationInfo: circulation.InfoForPool(pool),
		Start:           &now,
	}, nil, nil
}

// Checkin always succeeds; there is no vendor-side loan to end.
func (a *Adapter) Checkin(context.Context, *models.Patron, string, *models.LicensePool) error {
	return nil
}

// PlaceHold never succeeds: with unlimited access the title is always
// available, so a hold is never the right answer.
func (a *Adapter) PlaceHold(context.Context, *models.Patron, string, *models.LicensePool, string) (*circulation.HoldInfo, error) {
	return nil, circulation.ErrCurrentlyAvailable
}

// ReleaseHold never finds anything to release.
func (a *Adapter) ReleaseHold(context.Context, *models.Patron, string, *models.LicensePool) error {
	return circulation.ErrNotOnHold
}

// Fulfill hands out the delivery. DRM-free deliveries redirect straight
// to the distributor's resource; bearer-token deliveries defer the token
// mint until the content is actually consumed.
func (a *Adapter) Fulfill(_ context.Context, _ *models.Patron, _ string, pool *models.LicensePool, mechanism *models.LicensePoolDeliveryMechanism) (circulation.Fulfillment, error) {
	if mechanism == nil {
		mechanism = fulfillableDelivery(pool)
	}
	if mechanism == nil || mechanism.ResourceURL == "" || mechanism.DeliveryMechanism == nil {
		return nil, circulation.ErrFormatNotAvailable
	}

	info := circulation.InfoForPool(pool)

	switch mechanism.DeliveryMechanism.DRMScheme {
	case models.NoDRM:
		return &circulation.FulfillmentInfo{
			CirculationInfo:     info,
			ContentLink:         mechanism.ResourceURL,
			ContentType:         mechanism.DeliveryMechanism.ContentType,
			ContentLinkRedirect: true,
		}, nil

	case models.BearerTokenDRM:
		resource := mechanism.ResourceURL
		return circulation.NewLazyFulfillment(info, func(ctx context.Context) (*circulation.FulfillmentInfo, error) {
			token, err := a.tokens.Token(ctx)
			if err != nil {
				return nil, err
			}
			doc, err := json.Marshal(bearerTokenDocument{
				TokenType:   "Bearer",
				AccessToken: token.Value,
				ExpiresIn:   int(time.Until(token.Expires).Seconds()),
				Location:    resource,
			})
			if err != nil {
				return nil, err
			}
			expires := token.Expires
			return &circulation.FulfillmentInfo{
				CirculationInfo: info,
				Content:         doc,
				ContentType:     models.BearerTokenDRM,
				ContentExpires:  &expires,
			}, nil
		}), nil

	default:
		return nil, &circulation.DeliveryMechanismError{
			ContentType: contentTypeOf(mechanism),
			DRMScheme:   mechanism.DeliveryMechanism.DRMScheme,
		}
	}
}

// CanFulfillWithoutLoan reports true for deliveries this adapter can
// serve: with unlimited access the loan row is bookkeeping, not a
// precondition.
func (a *Adapter) CanFulfillWithoutLoan(_ *models.Patron, pool *models.LicensePool, mechanism *models.LicensePoolDeliveryMechanism) bool {
	if mechanism != nil {
		return mechanism.ResourceURL != "" && mechanism.DeliveryMechanism != nil
	}
	return fulfillableDelivery(pool) != nil
}

// UpdateAvailability marks the pool as unlimited access. The distributor
// has no copy counts to fetch.
func (a *Adapter) UpdateAvailability(ctx context.Context, pool *models.LicensePool) error {
	owned := pool.LicensesOwned
	if owned < 1 {
		owned = 1
	}
	if err := a.st.UpdatePoolAvailability(ctx, pool.ID, owned, owned, 0, true); err != nil {
		return err
	}
	pool.LicensesOwned = owned
	pool.LicensesAvailable = owned
	pool.PatronsInHoldQueue = 0
	pool.UnlimitedAccess = true
	return nil
}

// bearerTokenDocument is the fulfillment payload handed to reading
// clients: the minted token plus where to spend it.
type bearerTokenDocument struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Location    string `json:"location"`
}

// fulfillableDelivery returns the first delivery on the pool this adapter
// knows how to serve.
func fulfillableDelivery(pool *models.LicensePool) *models.LicensePoolDeliveryMechanism {
	for _, lpdm := range pool.DeliveryMechanisms {
		if lpdm.ResourceURL == "" || lpdm.DeliveryMechanism == nil {
			continue
		}
		switch lpdm.DeliveryMechanism.DRMScheme {
		case models.NoDRM, models.BearerTokenDRM:
			return lpdm
		}
	}
	return nil
}

func contentTypeOf(lpdm *models.LicensePoolDeliveryMechanism) string {
	if lpdm.DeliveryMechanism == nil {
		return ""
	}
	return lpdm.DeliveryMechanism.ContentType
}

var (
	_ circulation.VendorAdapter     = (*Adapter)(nil)
	_ circulation.LoanlessFulfiller = (*Adapter)(nil)
)
