package workflow

// suborderStatusFor maps a reported shipment status onto the derived suborder
// status. NOT_SHIPPED leaves the current suborder status untouched. The
// second return value is false for shipment statuses outside the closed set.
func suborderStatusFor(shipment ShipmentStatus, current SuborderStatus) (SuborderStatus, bool) {
	switch shipment {
	case ShipmentStatusShipped, ShipmentStatusInTransit:
		return SuborderStatusShipped, true
	case ShipmentStatusDelivered:
		return SuborderStatusDelivered, true
	case ShipmentStatusFailed:
		return SuborderStatusFailed, true
	case ShipmentStatusReturned:
		return SuborderStatusReturned, true
	case ShipmentStatusNotShipped:
		if current == "" {
			return SuborderStatusCreated, true
		}
		return current, true
	default:
		return current, false
	}
}

// DeriveMasterOrderStatus recomputes the buyer-visible order status from the
// full current suborder set. It is pure and evaluated from scratch on every
// call; the first matching rule wins:
//
//  1. no suborders, order predates the workflow -> keep the order's own status
//  2. no suborders, order bound to an indent    -> Awaiting fulfilment
//  3. every suborder still CREATED              -> Awaiting fulfilment
//  4. every suborder DELIVERED                  -> Delivered
//  5. any suborder SHIPPED or DELIVERED         -> Dispatched
//  6. any suborder FAILED or RETURNED           -> Awaiting fulfilment
//
// TODO: rule 6 collapses "partially failed, needs attention" into the same
// status as rule 3's "nothing shipped yet"; surfacing a distinct status needs
// a product decision before a new status class is introduced.
func DeriveMasterOrderStatus(order Order, suborders []OrderSuborder) string {
	if len(suborders) == 0 {
		if order.IndentID == 0 {
			return order.Status
		}
		return OrderStatusAwaitingFulfilment
	}

	allCreated := true
	allDelivered := true
	anyMoving := false
	anyFailed := false
	for _, sub := range suborders {
		switch sub.SuborderStatus {
		case SuborderStatusCreated, "":
			allDelivered = false
		case SuborderStatusDelivered:
			allCreated = false
			anyMoving = true
		case SuborderStatusShipped:
			allCreated = false
			allDelivered = false
			anyMoving = true
		case SuborderStatusFailed, SuborderStatusReturned:
			allCreated = false
			allDelivered = false
			anyFailed = true
		default:
			allCreated = false
			allDelivered = false
		}
	}

	switch {
	case allCreated:
		return OrderStatusAwaitingFulfilment
	case allDelivered:
		return OrderStatusDelivered
	case anyMoving:
		return OrderStatusDispatched
	case anyFailed:
		return OrderStatusAwaitingFulfilment
	}
	return OrderStatusAwaitingFulfilment
}
