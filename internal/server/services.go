package server

import (
	"libshelf/internal/availability"
	"libshelf/internal/catalog"
	"libshelf/internal/circulation"
	"libshelf/internal/inventory"
	"libshelf/internal/journal"
	"libshelf/internal/membership"
	"libshelf/internal/reservation"
	"libshelf/internal/storage"
)

// Services is every component of the engine, wired to one database.
type Services struct {
	DB           *storage.DB
	Journal      *journal.Journal
	Members      membership.Service
	Catalog      catalog.Service
	Inventory    inventory.Service
	Circulation  circulation.Service
	Reservations reservation.Service
	Availability availability.Service
}

func NewServices(db *storage.DB, opts ...circulation.Option) (*Services, error) {
	j := journal.New(db)
	books := catalog.NewService(db, j)
	members := membership.NewService(db, j)

	loans, err := circulation.NewService(db, books, j, opts...)
	if err != nil {
		return nil, err
	}

	return &Services{
		DB:           db,
		Journal:      j,
		Members:      members,
		Catalog:      books,
		Inventory:    inventory.NewService(db, books, j),
		Circulation:  loans,
		Reservations: reservation.NewService(db, j),
		Availability: availability.NewService(db, j, books, members),
	}, nil
}
