// Package billing keeps the local subscription state machine consistent with
// the payment gateway that owns the canonical billing state.
//
// The gateway is reached two ways: an asynchronous webhook event feed and a
// small synchronous command interface (create customer, create/cancel
// subscription, fetch subscription). The Reconciler folds the event feed into
// the subscription store; the Service drives the command interface for the
// upgrade and cancel flows. Both express every mutation as "set field to
// value", so out-of-order and redelivered events are safe to apply.
//
// # Components
//
//   - Subscription: the local record, one live row per user, never deleted
//   - Reconciler: Apply(event) for the webhook feed, Refresh for on-demand
//     gateway lookups, DowngradeLapsed for the scheduled past_due check
//   - Service: Upgrade and Cancel commands; local writes only follow
//     confirmed gateway state
//   - Gateway / CheckoutGateway: provider abstractions with Stripe and
//     Paddle implementations
//   - SubscriptionStore / PaymentStore: persistence interfaces with
//     Postgres and in-memory implementations
//
// # Grace period
//
// A canceled subscription keeps paid-level access until its current period
// ends. Subscription.GrantsPaidAccessAt encodes the rule; the metering gate
// consumes it through the billing Service. Status strings from the gateway
// map through MapGatewayStatus, a total function that treats anything
// unrecognized as canceled so the system never wedges in an unknown state.
package billing
