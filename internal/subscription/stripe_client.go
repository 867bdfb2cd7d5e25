package subscription

import (
	"context"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
)

// FindCustomerByEmail returns the first customer Stripe reports for
// the email, or nil when there is none.
func FindCustomerByEmail(ctx context.Context, email string) (*stripelib.Customer, error) {
	params := &stripelib.CustomerListParams{
		Email: stripelib.String(email),
	}
	params.Context = ctx
	params.Limit = stripelib.Int64(1)

	iter := customer.List(params)
	for iter.Next() {
		return iter.Customer(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

// listStripeSubscriptions returns the customer's subscriptions in provider
// list order, all statuses included.
func listStripeSubscriptions(ctx context.Context, customerID string) ([]*stripelib.Subscription, error) {
	params := &stripelib.SubscriptionListParams{
		Customer: stripelib.String(customerID),
		Status:   stripelib.String("all"),
	}
	params.Context = ctx

	var subs []*stripelib.Subscription
	iter := subscription.List(params)
	for iter.Next() {
		subs = append(subs, iter.Subscription())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}
