package dbschema

import (
	"database/sql/driver"
	"encoding/json"

	"gorm.io/datatypes"

	"threadwise/query-api/internal/domain/turn"
	"threadwise/query-api/internal/infrastructure/database"
)

func init() {
	database.RegisterSchemaForAutoMigrate(Turn{})
}

// Turn represents the database schema for persisted turns. The conditional
// cache upsert keys on (normalized_query, cache_bucket); that unique index is
// partial (live rows only) and therefore lives in the SQL migrations rather
// than in tags here.
type Turn struct {
	BaseModel
	PublicID        string         `gorm:"type:varchar(50);uniqueIndex;not null"`
	ChatPublicID    string         `gorm:"type:varchar(50);index:idx_turns_chat;not null"`
	Owner           string         `gorm:"type:varchar(255);index:idx_turns_owner;not null"`
	Query           string         `gorm:"type:text;not null"`
	NormalizedQuery string         `gorm:"type:text;index:idx_turns_normalized_query;not null"`
	CacheBucket     int64          `gorm:"not null"`
	Response        *string        `gorm:"type:text"`
	StrategyUsed    string         `gorm:"type:varchar(20);not null;default:'none'"`
	EvidenceRef     datatypes.JSON `gorm:"type:jsonb"`
	IsError         bool           `gorm:"not null;default:false"`
	ErrorKind       string         `gorm:"type:varchar(30);not null;default:'none'"`
	ErrorDetail     *string        `gorm:"type:text"`
	RetryCount      int            `gorm:"not null;default:0"`
	ReuseCount      int64          `gorm:"not null;default:0"`
	Votes           JSONVotes      `gorm:"type:jsonb"`
	IsDeleted       bool           `gorm:"index:idx_turns_is_deleted;not null;default:false"`
}

func (Turn) TableName() string {
	return "turns"
}

// JSONVotes is the per-voter vote ledger stored as JSONB.
type JSONVotes map[string]int

func (j JSONVotes) Value() (driver.Value, error) {
	if j == nil {
		return json.Marshal(map[string]int{})
	}
	return json.Marshal(j)
}

func (j *JSONVotes) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// NewSchemaTurn creates a database schema row from a domain turn
func NewSchemaTurn(t *turn.Turn) (*Turn, error) {
	if t == nil {
		return nil, nil
	}

	var evidence datatypes.JSON
	if t.Evidence != nil {
		data, err := json.Marshal(t.Evidence)
		if err != nil {
			return nil, err
		}
		evidence = datatypes.JSON(data)
	}

	return &Turn{
		BaseModel: BaseModel{
			ID:        t.ID,
			CreatedAt: t.CreatedAt,
			UpdatedAt: t.UpdatedAt,
		},
		PublicID:        t.PublicID,
		ChatPublicID:    t.ChatPublicID,
		Owner:           t.Owner,
		Query:           t.Query,
		NormalizedQuery: t.NormalizedQuery,
		CacheBucket:     t.CacheBucket,
		Response:        t.Response,
		StrategyUsed:    string(t.StrategyUsed),
		EvidenceRef:     evidence,
		IsError:         t.IsError,
		ErrorKind:       string(t.ErrorKind),
		ErrorDetail:     t.ErrorDetail,
		RetryCount:      t.RetryCount,
		ReuseCount:      t.ReuseCount,
		Votes:           JSONVotes(t.Votes),
		IsDeleted:       t.IsDeleted,
	}, nil
}

// EtoD converts the schema row back to the domain turn
func (m *Turn) EtoD() (*turn.Turn, error) {
	if m == nil {
		return nil, nil
	}

	var evidence *turn.EvidenceRef
	if len(m.EvidenceRef) > 0 {
		evidence = &turn.EvidenceRef{}
		if err := json.Unmarshal(m.EvidenceRef, evidence); err != nil {
			return nil, err
		}
	}

	votes := map[string]int(m.Votes)
	if votes == nil {
		votes = make(map[string]int)
	}

	return &turn.Turn{
		ID:              m.ID,
		PublicID:        m.PublicID,
		ChatPublicID:    m.ChatPublicID,
		Owner:           m.Owner,
		Query:           m.Query,
		NormalizedQuery: m.NormalizedQuery,
		CacheBucket:     m.CacheBucket,
		Response:        m.Response,
		StrategyUsed:    turn.Strategy(m.StrategyUsed),
		Evidence:        evidence,
		IsError:         m.IsError,
		ErrorKind:       turn.ErrorKind(m.ErrorKind),
		ErrorDetail:     m.ErrorDetail,
		RetryCount:      m.RetryCount,
		ReuseCount:      m.ReuseCount,
		Votes:           votes,
		IsDeleted:       m.IsDeleted,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}, nil
}
