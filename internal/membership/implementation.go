// internal/membership/implementation.go
package membership

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libshelf/internal/apperror"
	"libshelf/internal/journal"
	"libshelf/internal/storage"
)

const table = "members"

var columns = []interface{}{"id", "name", "email", "role", "created_at"}

const bootstrapLock int64 = 0x6c696273_00000002

// service implements the Service interface.
type service struct {
	db      *storage.DB
	journal *journal.Journal
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService creates a new membership service instance.
func NewService(db *storage.DB, j *journal.Journal) Service {
	return &service{
		db:      db,
		journal: j,
		tracer:  otel.Tracer("libshelf/membership"),
		now:     time.Now,
	}
}

// RegisterMember validates and stores a new member.
func (s *service) RegisterMember(ctx context.Context, in NewMember) (*Member, error) {
	ctx, span := s.tracer.Start(ctx, "membership.register")
	defer span.End()
	return s.register(ctx, in, false)
}

func (s *service) Bootstrap(ctx context.Context, in NewMember) (*Member, error) {
	ctx, span := s.tracer.Start(ctx, "membership.bootstrap")
	defer span.End()
	return s.register(ctx, in, true)
}

func (s *service) register(ctx context.Context, in NewMember, bootstrap bool) (*Member, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperror.Validation("name is required")
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil {
		return nil, apperror.Validation("email %q is not a valid address", in.Email)
	}
	role := in.Role
	if role == "" {
		role = RoleMember
	}
	if role != RoleMember && role != RoleAdmin {
		return nil, apperror.Validation("role must be %q or %q", RoleMember, RoleAdmin)
	}

	member := &Member{
		ID:        uuid.New(),
		Name:      name,
		Email:     strings.ToLower(addr.Address),
		Role:      role,
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}

	err = s.db.InTx(ctx, "membership.register", func(tx *sqlx.Tx) error {
		if bootstrap {
			if err := s.db.XactLock(ctx, tx, bootstrapLock); err != nil {
				return err
			}
			exists, err := s.adminExists(ctx, tx)
			if err != nil {
				return err
			}
			if exists {
				return apperror.Forbidden("admin role required")
			}
		}
		if _, err := storage.Exec(ctx, tx, s.db.Insert(table).Rows(goqu.Record{
			"id":         member.ID,
			"name":       member.Name,
			"email":      member.Email,
			"role":       string(member.Role),
			"created_at": member.CreatedAt,
		})); err != nil {
			return err
		}
		return s.journal.Append(ctx, tx, journal.Event{
			AggregateType: journal.AggregateMember,
			AggregateID:   member.ID,
			Type:          journal.MemberRegistered,
			Data:          MemberRegisteredEvent{ID: member.ID, Email: member.Email, Name: member.Name, Role: member.Role},
			OccurredAt:    member.CreatedAt,
		})
	})
	if errors.Is(err, storage.ErrUniqueViolation) {
		return nil, apperror.Validation("a member with email %s already exists", member.Email)
	}
	if apperror.IsDomain(err) {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to register member")
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("member.id", member.ID.String()))
	return member, nil
}

// GetMember retrieves a member by their ID.
func (s *service) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	var member Member
	err := storage.Get(ctx, s.db, &member, s.db.From(table).Select(columns...).Where(goqu.C("id").Eq(id)))
	if storage.IsNoRows(err) {
		return nil, apperror.NotFound("member %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get member")
	}
	member.CreatedAt = member.CreatedAt.UTC()
	return &member, nil
}

// IsAdmin reports whether id belongs to an admin. Unknown ids are not admins.
func (s *service) IsAdmin(ctx context.Context, id uuid.UUID) (bool, error) {
	var role string
	err := storage.Get(ctx, s.db, &role, s.db.From(table).Select("role").Where(goqu.C("id").Eq(id)))
	if storage.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to resolve member role")
	}
	return Role(role) == RoleAdmin, nil
}

func (s *service) AdminExists(ctx context.Context) (bool, error) {
	return s.adminExists(ctx, s.db)
}

func (s *service) adminExists(ctx context.Context, q storage.Querier) (bool, error) {
	var count int
	stmt := s.db.From(table).Select(goqu.COUNT("*")).Where(goqu.C("role").Eq(string(RoleAdmin)))
	if err := storage.Get(ctx, q, &count, stmt); err != nil {
		return false, errors.Wrap(err, "failed to count admins")
	}
	return count > 0, nil
}

func (s *service) DisplayNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	names := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	var rows []struct {
		ID   uuid.UUID `db:"id"`
		Name string    `db:"name"`
	}
	if err := storage.Select(ctx, s.db, &rows, s.db.From(table).Select("id", "name").Where(goqu.C("id").In(ids))); err != nil {
		return nil, errors.Wrap(err, "failed to load display names")
	}
	for _, row := range rows {
		names[row.ID] = row.Name
	}
	return names, nil
}
