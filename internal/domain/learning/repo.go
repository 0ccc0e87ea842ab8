package learning

// Repository stores correction patterns.
type Repository interface {
	Save(p *Pattern) error
	Find(id string) (*Pattern, bool, error)
	List() ([]*Pattern, error)
}
