package datamodel

import (
	"github.com/frahmantamala/donation-gateway/internal/core/datamodel/donation"
	"github.com/frahmantamala/donation-gateway/internal/core/datamodel/gatewayevent"
	"github.com/frahmantamala/donation-gateway/internal/core/datamodel/idempotency"
	"github.com/frahmantamala/donation-gateway/internal/core/datamodel/setting"
	"github.com/frahmantamala/donation-gateway/internal/core/datamodel/subscription"
)

// Models lists every persisted row type. Tests auto-migrate these against
// sqlite; production schemas come from db/migrations.
func Models() []interface{} {
	return []interface{}{
		&donation.Donation{},
		&subscription.Subscription{},
		&subscription.Entry{},
		&gatewayevent.GatewayEvent{},
		&gatewayevent.EventRetry{},
		&idempotency.ProcessedEvent{},
		&setting.GatewaySetting{},
	}
}
