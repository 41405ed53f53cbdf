package service

// Actor is the caller of a service operation as identified by the API layer.
type Actor struct {
	// SubscriberID is the authenticated subscriber, zero when anonymous.
	SubscriberID int64
	// Admin actors may act on any subscriber.
	Admin bool
}

// CanManage reports whether the actor may read or change subscriberID's data.
func (a Actor) CanManage(subscriberID int64) bool {
	return a.Admin || (a.SubscriberID > 0 && a.SubscriberID == subscriberID)
}

func authorize(a Actor, subscriberID int64) error {
	if !a.CanManage(subscriberID) {
		return &AuthorizationError{Message: "not allowed to manage another subscriber's notifications"}
	}
	return nil
}
