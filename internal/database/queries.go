package database

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/lib/pq"
	"github.com/teris-io/shortid"
)

const (
	oneOnOneChatName    = "One on one chat"
	minGroupSize        = 3
	defaultMessageLimit = 50

	accountColumns = "id, username, email, created_at, updated_at"
	chatColumns    = "id, name, is_group, admin_id, seq_id, last_message_id, created_at, updated_at"

	messageSelect = "SELECT m.id, m.seq_id, m.chat_id, m.content, m.created_at, m.updated_at, " +
		"a.id, a.username, a.email, a.created_at, a.updated_at, " +
		"COALESCE(ARRAY_AGG(ma.url ORDER BY ma.id) FILTER (WHERE ma.url IS NOT NULL), '{}') " +
		"FROM messages m JOIN accounts a ON a.id = m.sender_id " +
		"LEFT JOIN message_attachments ma ON ma.message_id = m.id "
	messageGroupBy = " GROUP BY m.id, a.id"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type chatHeader struct {
	isGroup bool
	adminId int
}

func scanAccount(row rowScanner) (User, error) {
	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		msg         Message
		attachments pq.StringArray
	)
	err := row.Scan(
		&msg.Id,
		&msg.SeqId,
		&msg.ChatId,
		&msg.Content,
		&msg.CreatedAt,
		&msg.UpdatedAt,
		&msg.Sender.Id,
		&msg.Sender.Username,
		&msg.Sender.EmailAddress,
		&msg.Sender.CreatedAt,
		&msg.Sender.UpdatedAt,
		&attachments,
	)
	msg.Attachments = []string(attachments)

	return msg, err
}

func (db *PgChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING "+accountColumns,
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		now,
	)

	u, err := scanAccount(row)
	return u, mapError(err)
}

func (db *PgChatRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 LIMIT 1",
		id,
	)

	u, err := scanAccount(row)
	return u, mapError(err)
}

func (db *PgChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.PasswordHash,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, mapError(err)
}

func (db *PgChatRepository) SearchAccounts(excludeId int) ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT "+accountColumns+" FROM accounts WHERE id <> $1 ORDER BY username",
		excludeId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		u, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// groupMembers returns the member list of a new group chat, admin first.
func groupMembers(adminId int, participantIds []int) ([]int, error) {
	members := []int{adminId}
	for _, id := range participantIds {
		if slices.Contains(members, id) {
			return nil, fmt.Errorf("%w: duplicate participant %d", ErrInvalid, id)
		}
		members = append(members, id)
	}

	if len(members) < minGroupSize {
		return nil, fmt.Errorf("%w: a group chat needs at least %d members", ErrInvalid, minGroupSize)
	}

	return members, nil
}

func (db *PgChatRepository) CreateGroupChat(params CreateGroupChatParams) (Chat, error) {
	members, err := groupMembers(params.AdminId, params.ParticipantIds)
	if err != nil {
		return Chat{}, err
	}

	var chat Chat
	err = db.withTx(func(tx *sql.Tx) error {
		chatId, err := insertChat(tx, params.Name, true, params.AdminId, members)
		if err != nil {
			return err
		}

		chat, err = getChat(tx, chatId)
		return err
	})

	return chat, err
}

func (db *PgChatRepository) CreateOrGetOneOnOneChat(userId, receiverId int) (Chat, bool, error) {
	if userId == receiverId {
		return Chat{}, false, fmt.Errorf("%w: cannot chat with yourself", ErrInvalid)
	}

	var (
		chat    Chat
		created bool
	)
	err := db.withTx(func(tx *sql.Tx) error {
		// serialise concurrent creations for the same pair of users
		if _, err := tx.Exec("SELECT pg_advisory_xact_lock($1, $2)", min(userId, receiverId), max(userId, receiverId)); err != nil {
			return err
		}

		var chatId string
		err := tx.QueryRow(
			"SELECT c.id FROM chats c "+
				"JOIN chat_participants p1 ON p1.chat_id = c.id AND p1.account_id = $1 "+
				"JOIN chat_participants p2 ON p2.chat_id = c.id AND p2.account_id = $2 "+
				"WHERE c.is_group = FALSE LIMIT 1",
			userId,
			receiverId,
		).Scan(&chatId)

		switch {
		case err == nil:
		case errors.Is(err, sql.ErrNoRows):
			chatId, err = insertChat(tx, oneOnOneChatName, false, userId, []int{userId, receiverId})
			if err != nil {
				return err
			}
			created = true
		default:
			return err
		}

		chat, err = getChat(tx, chatId)
		return err
	})

	return chat, created, err
}

func (db *PgChatRepository) GetChat(chatId string) (Chat, error) {
	return getChat(db.conn, chatId)
}

func (db *PgChatRepository) ListChats(accountId int) ([]Chat, error) {
	rows, err := db.conn.Query(
		"SELECT c.id FROM chats c JOIN chat_participants p ON p.chat_id = c.id "+
			"WHERE p.account_id = $1 ORDER BY c.updated_at DESC",
		accountId,
	)
	if err != nil {
		return nil, err
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	chats := make([]Chat, 0, len(ids))
	for _, id := range ids {
		chat, err := getChat(db.conn, id)
		if errors.Is(err, ErrNotFound) {
			// deleted since the listing
			continue
		}
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}

	return chats, nil
}

func (db *PgChatRepository) RenameChat(chatId string, actorId int, name string) (Chat, error) {
	var chat Chat
	err := db.withTx(func(tx *sql.Tx) error {
		if err := lockGroupChatAsAdmin(tx, chatId, actorId); err != nil {
			return err
		}

		if _, err := tx.Exec(
			"UPDATE chats SET name = $2, updated_at = $3 WHERE id = $1",
			chatId,
			name,
			time.Now().UTC(),
		); err != nil {
			return err
		}

		var err error
		chat, err = getChat(tx, chatId)
		return err
	})

	return chat, err
}

func (db *PgChatRepository) AddParticipant(chatId string, actorId, accountId int) (Chat, error) {
	var chat Chat
	err := db.withTx(func(tx *sql.Tx) error {
		if err := lockGroupChatAsAdmin(tx, chatId, actorId); err != nil {
			return err
		}

		exists, err := isParticipant(tx, chatId, accountId)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: account %d is already a participant", ErrConflict, accountId)
		}

		if _, err := tx.Exec(
			"INSERT INTO chat_participants (chat_id, account_id, created_at) VALUES ($1, $2, $3)",
			chatId,
			accountId,
			time.Now().UTC(),
		); err != nil {
			return mapError(err)
		}

		if err := touchChat(tx, chatId); err != nil {
			return err
		}

		chat, err = getChat(tx, chatId)
		return err
	})

	return chat, err
}

func (db *PgChatRepository) RemoveParticipant(chatId string, actorId, accountId int) (Chat, error) {
	var chat Chat
	err := db.withTx(func(tx *sql.Tx) error {
		if err := lockGroupChatAsAdmin(tx, chatId, actorId); err != nil {
			return err
		}

		if accountId == actorId {
			return fmt.Errorf("%w: the admin cannot remove themselves", ErrInvalid)
		}

		if err := deleteParticipant(tx, chatId, accountId); err != nil {
			return err
		}

		var err error
		chat, err = getChat(tx, chatId)
		return err
	})

	return chat, err
}

func (db *PgChatRepository) LeaveChat(chatId string, accountId int) (Chat, error) {
	var chat Chat
	err := db.withTx(func(tx *sql.Tx) error {
		h, err := lockChat(tx, chatId)
		if err != nil {
			return err
		}
		if !h.isGroup {
			return fmt.Errorf("%w: group chat %q", ErrNotFound, chatId)
		}
		if h.adminId == accountId {
			return fmt.Errorf("%w: the admin cannot leave the group, delete it instead", ErrForbidden)
		}

		if err := deleteParticipant(tx, chatId, accountId); err != nil {
			return err
		}

		chat, err = getChat(tx, chatId)
		return err
	})

	return chat, err
}

func (db *PgChatRepository) DeleteChat(chatId string, actorId int) (Chat, error) {
	var chat Chat
	err := db.withTx(func(tx *sql.Tx) error {
		if _, err := lockChat(tx, chatId); err != nil {
			return err
		}

		var err error
		chat, err = getChat(tx, chatId)
		if err != nil {
			return err
		}

		if chat.IsGroupChat && chat.AdminId != actorId {
			return fmt.Errorf("%w: only the group admin can delete the group", ErrForbidden)
		}
		if !chat.IsGroupChat && !chat.HasParticipant(actorId) {
			return fmt.Errorf("%w: chat %q", ErrNotFound, chatId)
		}

		_, err = tx.Exec("DELETE FROM chats WHERE id = $1", chatId)
		return err
	})
	if err != nil {
		return Chat{}, err
	}

	return chat, nil
}

func (db *PgChatRepository) IsParticipant(chatId string, accountId int) (bool, error) {
	return isParticipant(db.conn, chatId, accountId)
}

func (db *PgChatRepository) SendMessage(params SendMessageParams) (Message, []int, error) {
	if params.Content == "" && len(params.Attachments) == 0 {
		return Message{}, nil, fmt.Errorf("%w: message content or attachment is required", ErrInvalid)
	}

	var (
		msg        Message
		recipients []int
	)
	err := db.withTx(func(tx *sql.Tx) error {
		ok, err := isParticipant(tx, params.ChatId, params.SenderId)
		if err != nil {
			return err
		}
		if !ok {
			if _, err := lockChat(tx, params.ChatId); err != nil {
				return err
			}
			return fmt.Errorf("%w: not a participant of chat %q", ErrForbidden, params.ChatId)
		}

		// the row lock taken by this update orders concurrent sends in the chat
		now := time.Now().UTC()
		var seqId int
		if err := tx.QueryRow(
			"UPDATE chats SET seq_id = seq_id + 1, updated_at = $2 WHERE id = $1 RETURNING seq_id",
			params.ChatId,
			now,
		).Scan(&seqId); err != nil {
			return mapError(err)
		}

		var messageId int
		if err := tx.QueryRow(
			"INSERT INTO messages (chat_id, seq_id, sender_id, content, created_at, updated_at) "+
				"VALUES ($1, $2, $3, $4, $5, $5) RETURNING id",
			params.ChatId,
			seqId,
			params.SenderId,
			params.Content,
			now,
		).Scan(&messageId); err != nil {
			return mapError(err)
		}

		for _, url := range params.Attachments {
			if _, err := tx.Exec(
				"INSERT INTO message_attachments (message_id, url) VALUES ($1, $2)",
				messageId,
				url,
			); err != nil {
				return err
			}
		}

		if _, err := tx.Exec("UPDATE chats SET last_message_id = $2 WHERE id = $1", params.ChatId, messageId); err != nil {
			return err
		}

		if msg, err = getMessage(tx, params.ChatId, messageId); err != nil {
			return err
		}

		recipients, err = participantIds(tx, params.ChatId)
		return err
	})
	if err != nil {
		return Message{}, nil, err
	}

	return msg, recipients, nil
}

func (db *PgChatRepository) DeleteMessage(chatId string, messageId, actorId int) (Message, []int, error) {
	var (
		msg        Message
		recipients []int
	)
	err := db.withTx(func(tx *sql.Tx) error {
		if _, err := lockChat(tx, chatId); err != nil {
			return err
		}

		m, err := getMessage(tx, chatId, messageId)
		if err != nil {
			return err
		}

		if m.Sender.Id != actorId {
			return fmt.Errorf("%w: only the sender can delete a message", ErrForbidden)
		}

		ok, err := isParticipant(tx, chatId, actorId)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: not a participant of chat %q", ErrForbidden, chatId)
		}

		if _, err := tx.Exec("DELETE FROM messages WHERE id = $1", messageId); err != nil {
			return err
		}

		if _, err := tx.Exec(
			"UPDATE chats SET last_message_id = "+
				"(SELECT id FROM messages WHERE chat_id = $1 ORDER BY seq_id DESC LIMIT 1), "+
				"updated_at = $2 WHERE id = $1",
			chatId,
			time.Now().UTC(),
		); err != nil {
			return err
		}

		msg = m
		recipients, err = participantIds(tx, chatId)
		return err
	})
	if err != nil {
		return Message{}, nil, err
	}

	return msg, recipients, nil
}

func (db *PgChatRepository) ListMessages(chatId string, before, limit int) ([]Message, error) {
	var exists bool
	if err := db.conn.QueryRow("SELECT EXISTS(SELECT 1 FROM chats WHERE id = $1)", chatId).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	upper := math.MaxInt32
	if before > 0 {
		upper = before
	}

	if limit <= 0 {
		limit = defaultMessageLimit
	}

	rows, err := db.conn.Query(
		messageSelect+"WHERE m.chat_id = $1 AND m.seq_id < $2"+messageGroupBy+
			" ORDER BY m.seq_id DESC LIMIT $3",
		chatId,
		upper,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func getChat(q querier, chatId string) (Chat, error) {
	var (
		chat          Chat
		lastMessageId sql.NullInt64
	)
	err := q.QueryRow(
		"SELECT "+chatColumns+" FROM chats WHERE id = $1",
		chatId,
	).Scan(
		&chat.Id,
		&chat.Name,
		&chat.IsGroupChat,
		&chat.AdminId,
		&chat.SeqId,
		&lastMessageId,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return Chat{}, mapError(err)
	}

	chat.Participants, err = listParticipants(q, chatId)
	if err != nil {
		return Chat{}, err
	}

	if lastMessageId.Valid {
		msg, err := getMessage(q, chatId, int(lastMessageId.Int64))
		switch {
		case err == nil:
			chat.LastMessage = &msg
		case !errors.Is(err, ErrNotFound):
			return Chat{}, err
		}
	}

	return chat, nil
}

func listParticipants(q querier, chatId string) ([]User, error) {
	rows, err := q.Query(
		"SELECT a.id, a.username, a.email, a.created_at, a.updated_at FROM chat_participants p "+
			"JOIN accounts a ON a.id = p.account_id WHERE p.chat_id = $1 ORDER BY p.created_at, a.id",
		chatId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := make([]User, 0)
	for rows.Next() {
		u, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, u)
	}

	return participants, rows.Err()
}

func getMessage(q querier, chatId string, messageId int) (Message, error) {
	row := q.QueryRow(
		messageSelect+"WHERE m.chat_id = $1 AND m.id = $2"+messageGroupBy,
		chatId,
		messageId,
	)

	msg, err := scanMessage(row)
	return msg, mapError(err)
}

func insertChat(tx *sql.Tx, name string, isGroup bool, adminId int, members []int) (string, error) {
	chatId, err := shortid.Generate()
	if err != nil {
		return "", fmt.Errorf("generate chat id: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(
		"INSERT INTO chats (id, name, is_group, admin_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5)",
		chatId,
		name,
		isGroup,
		adminId,
		now,
	); err != nil {
		return "", mapError(err)
	}

	for _, id := range members {
		if _, err := tx.Exec(
			"INSERT INTO chat_participants (chat_id, account_id, created_at) VALUES ($1, $2, $3)",
			chatId,
			id,
			now,
		); err != nil {
			return "", mapError(err)
		}
	}

	return chatId, nil
}

func lockChat(tx *sql.Tx, chatId string) (chatHeader, error) {
	var h chatHeader
	err := tx.QueryRow(
		"SELECT is_group, admin_id FROM chats WHERE id = $1 FOR UPDATE",
		chatId,
	).Scan(&h.isGroup, &h.adminId)

	return h, mapError(err)
}

func lockGroupChatAsAdmin(tx *sql.Tx, chatId string, actorId int) error {
	h, err := lockChat(tx, chatId)
	if err != nil {
		return err
	}

	if !h.isGroup {
		return fmt.Errorf("%w: group chat %q", ErrNotFound, chatId)
	}

	if h.adminId != actorId {
		return fmt.Errorf("%w: only the group admin can do this", ErrForbidden)
	}

	return nil
}

func deleteParticipant(tx *sql.Tx, chatId string, accountId int) error {
	res, err := tx.Exec(
		"DELETE FROM chat_participants WHERE chat_id = $1 AND account_id = $2",
		chatId,
		accountId,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: account %d is not a participant", ErrNotFound, accountId)
	}

	return touchChat(tx, chatId)
}

func touchChat(tx *sql.Tx, chatId string) error {
	_, err := tx.Exec("UPDATE chats SET updated_at = $2 WHERE id = $1", chatId, time.Now().UTC())
	return err
}

func participantIds(q querier, chatId string) ([]int, error) {
	rows, err := q.Query("SELECT account_id FROM chat_participants WHERE chat_id = $1 ORDER BY created_at, account_id", chatId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int, 0)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func isParticipant(q querier, chatId string, accountId int) (bool, error) {
	var exists bool
	err := q.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id = $1 AND account_id = $2)",
		chatId,
		accountId,
	).Scan(&exists)

	return exists, err
}
