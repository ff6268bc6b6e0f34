package storage

import (
	"context"
	"errors"
	"time"

	"PPRelay/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS messages (
	id            uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	sender_id     varchar(255) NOT NULL,
	receiver_id   varchar(255) NOT NULL,
	content       text NOT NULL DEFAULT '',
	image_url     varchar(1024),
	audio_url     varchar(1024),
	document_url  varchar(1024),
	document_name varchar(512),
	video_url     varchar(1024),
	status        varchar(20) NOT NULL DEFAULT 'sending',
	created_at    timestamptz NOT NULL DEFAULT now(),
	delivered_at  timestamptz,
	seen_at       timestamptz
);
CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages (sender_id, receiver_id, created_at);
CREATE INDEX IF NOT EXISTS messages_receiver_status_idx ON messages (receiver_id, status);
`

const messageColumns = `id::text, sender_id, receiver_id, content,
	coalesce(image_url, ''), coalesce(audio_url, ''), coalesce(document_url, ''),
	coalesce(document_name, ''), coalesce(video_url, ''),
	status, created_at, delivered_at, seen_at`

// PGMessages is the PostgreSQL MessageStore. Status predicates live in the
// UPDATE statements so concurrent acks cannot regress a row.
type PGMessages struct {
	pool *pgxpool.Pool
}

func NewPGMessages(ctx context.Context, dsn string) (*PGMessages, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.WrapMsg(err, "pgxpool.New")
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "postgres ping")
	}
	return &PGMessages{pool: pool}, nil
}

func (s *PGMessages) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return errs.WrapMsg(err, "ensure messages schema")
	}
	return nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	var status string
	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content,
		&m.ImageURL, &m.AudioURL, &m.DocumentURL, &m.DocumentName, &m.VideoURL,
		&status, &m.CreatedAt, &m.DeliveredAt, &m.SeenAt)
	m.Status = MessageStatus(status)
	return m, err
}

func notFound(err error, kv ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrRecordNotFound.WrapMsg("", kv...)
	}
	return errs.WrapMsg(err, "query messages", kv...)
}

func (s *PGMessages) Create(ctx context.Context, senderID, receiverID string, in NewMessage) (Message, error) {
	if senderID == "" || receiverID == "" || in.Empty() {
		return Message{}, errs.ErrMalformedPayload.WrapMsg("incomplete message", "sender", senderID, "receiver", receiverID)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (sender_id, receiver_id, content, image_url, audio_url,
			document_url, document_name, video_url, status)
		VALUES ($1, $2, $3, nullif($4, ''), nullif($5, ''), nullif($6, ''), nullif($7, ''), nullif($8, ''), $9)
		RETURNING `+messageColumns,
		senderID, receiverID, in.Content, in.ImageURL, in.AudioURL,
		in.DocumentURL, in.DocumentName, in.VideoURL, string(StatusSent))
	m, err := scanMessage(row)
	if err != nil {
		return Message{}, errs.WrapMsg(err, "insert message", "sender", senderID, "receiver", receiverID)
	}
	return m, nil
}

func (s *PGMessages) Conversation(ctx context.Context, userID, peerID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC`, userID, peerID)
	if err != nil {
		return nil, errs.WrapMsg(err, "query conversation", "user", userID, "peer", peerID)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errs.WrapMsg(err, "scan message")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGMessages) Edit(ctx context.Context, id, senderID, content string) (Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, `
		UPDATE messages SET content = $3
		WHERE id::text = $1 AND sender_id = $2
		RETURNING `+messageColumns, id, senderID, content))
	if err != nil {
		return Message{}, notFound(err, "id", id, "sender", senderID)
	}
	return m, nil
}

func (s *PGMessages) Delete(ctx context.Context, id, senderID string) (Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, `
		DELETE FROM messages WHERE id::text = $1 AND sender_id = $2
		RETURNING `+messageColumns, id, senderID))
	if err != nil {
		return Message{}, notFound(err, "id", id, "sender", senderID)
	}
	return m, nil
}

func (s *PGMessages) MarkDelivered(ctx context.Context, receiverID, senderID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET status = 'delivered', delivered_at = now()
		WHERE receiver_id = $1 AND sender_id = $2 AND status = 'sent'`, receiverID, senderID)
	if err != nil {
		return 0, errs.WrapMsg(err, "mark delivered", "receiver", receiverID, "sender", senderID)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGMessages) MarkAllDelivered(ctx context.Context, receiverID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		WITH updated AS (
			UPDATE messages SET status = 'delivered', delivered_at = now()
			WHERE receiver_id = $1 AND status = 'sent'
			RETURNING sender_id
		)
		SELECT DISTINCT sender_id FROM updated ORDER BY sender_id`, receiverID)
	if err != nil {
		return nil, errs.WrapMsg(err, "mark all delivered", "receiver", receiverID)
	}
	senders, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errs.WrapMsg(err, "collect senders")
	}
	return senders, nil
}

func (s *PGMessages) MarkSeen(ctx context.Context, receiverID, senderID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET status = 'seen', seen_at = now()
		WHERE receiver_id = $1 AND sender_id = $2 AND status IN ('sent', 'delivered')`, receiverID, senderID)
	if err != nil {
		return 0, errs.WrapMsg(err, "mark seen", "receiver", receiverID, "sender", senderID)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGMessages) LastMessagePerPeer(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT peer, content, sender_id, created_at, status,
			coalesce(image_url, ''), coalesce(audio_url, ''), coalesce(video_url, ''), coalesce(document_url, '')
		FROM (
			SELECT DISTINCT ON (peer) *
			FROM (
				SELECT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS peer, *
				FROM messages WHERE sender_id = $1 OR receiver_id = $1
			) t
			ORDER BY peer, created_at DESC
		) latest
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, errs.WrapMsg(err, "query last messages", "user", userID)
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var c Conversation
		var status string
		if err := rows.Scan(&c.PeerID, &c.Content, &c.SenderID, &c.CreatedAt, &status,
			&c.ImageURL, &c.AudioURL, &c.VideoURL, &c.DocumentURL); err != nil {
			return nil, errs.WrapMsg(err, "scan conversation")
		}
		c.Status = MessageStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PGMessages) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sender_id, count(*) FROM messages
		WHERE receiver_id = $1 AND status <> 'seen'
		GROUP BY sender_id`, userID)
	if err != nil {
		return nil, errs.WrapMsg(err, "query unread", "user", userID)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var sender string
		var n int64
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, errs.WrapMsg(err, "scan unread")
		}
		counts[sender] = int(n)
	}
	return counts, rows.Err()
}

func (s *PGMessages) Close() { s.pool.Close() }
