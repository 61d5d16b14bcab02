package product

// Compare returns a DropEvent when current is strictly cheaper than previous.
// A nil previous means the product has no history yet and never yields an event.
func Compare(previous *Observation, current Observation) *DropEvent {
	if previous == nil {
		return nil
	}
	if !current.Price.LessThan(previous.Price) {
		return nil
	}
	return &DropEvent{
		ProductID: current.ProductID,
		Previous:  previous.Price,
		Current:   current.Price,
		Delta:     previous.Price.Sub(current.Price),
	}
}
