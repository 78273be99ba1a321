package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Contract errors
var (
	ErrContractNotFound = errors.New("contract not found")
)

// ContractState is the lifecycle state of a contract.
type ContractState string

const (
	ContractStateBuilt     ContractState = "built"     // Transactions created
	ContractStateSigning   ContractState = "signing"   // CET adaptor signatures exchanged
	ContractStateFunded    ContractState = "funded"    // Funding transaction broadcast
	ContractStateConfirmed ContractState = "confirmed" // Funding transaction confirmed
	ContractStateSettled   ContractState = "settled"   // A CET was fully signed
	ContractStateClosed    ContractState = "closed"    // A CET was broadcast
	ContractStateRefunded  ContractState = "refunded"  // The refund was broadcast
)

// Contract is a stored contract. Transactions are hex encoded.
type Contract struct {
	ID      string // funding txid
	Chain   string
	Network string
	State   ContractState

	FundTx        string
	FundVout      int
	FundValue     uint64
	FundingScript string

	RefundTxID     string
	RefundTx       string
	RefundLockTime uint32

	Cets []Cet

	CreatedAt time.Time
	UpdatedAt *time.Time
}

// Cet is a stored CET and the progress of its signature.
type Cet struct {
	Index      int
	TxID       string
	Tx         string
	State      string
	AdaptorSig string
	SignedTx   string
	UpdatedAt  *time.Time
}

// SaveContract stores a contract and its CETs. Saving a contract that is
// already stored is a no-op.
func (s *Storage) SaveContract(c *Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR IGNORE INTO contracts (
			id, chain, network, state, fund_tx, fund_vout, fund_value, funding_script,
			refund_txid, refund_tx, refund_locktime, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.Chain, c.Network, c.State,
		c.FundTx, c.FundVout, c.FundValue, c.FundingScript,
		c.RefundTxID, c.RefundTx, c.RefundLockTime,
		c.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save contract: %w", err)
	}

	for _, cet := range c.Cets {
		_, err = tx.Exec(`
			INSERT OR IGNORE INTO cets (contract_id, idx, txid, tx, state)
			VALUES (?, ?, ?, ?, ?)
		`, c.ID, cet.Index, cet.TxID, cet.Tx, cet.State)
		if err != nil {
			return fmt.Errorf("failed to save cet %d: %w", cet.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contract: %w", err)
	}
	return nil
}

// GetContract retrieves a contract and its CETs by funding txid.
func (s *Storage) GetContract(id string) (*Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := scanContract(s.db.QueryRow(contractColumns+` FROM contracts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT idx, txid, tx, state, adaptor_sig, signed_tx, updated_at
		FROM cets WHERE contract_id = ? ORDER BY idx
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get cets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cet Cet
		var adaptorSig, signedTx sql.NullString
		var updatedAt sql.NullInt64
		if err := rows.Scan(&cet.Index, &cet.TxID, &cet.Tx, &cet.State, &adaptorSig, &signedTx, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cet: %w", err)
		}
		cet.AdaptorSig = adaptorSig.String
		cet.SignedTx = signedTx.String
		cet.UpdatedAt = nullTime(updatedAt)
		c.Cets = append(c.Cets, cet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cets: %w", err)
	}

	return c, nil
}

// ListContracts returns the most recent contracts without their CETs.
func (s *Storage) ListContracts(state ContractState, limit int) ([]*Contract, error) {
	if limit <= 0 {
		limit = 100
	}

	query := contractColumns + ` FROM contracts`
	args := []interface{}{}
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	return s.queryContracts(query, args...)
}

// ListContractsAfter returns up to limit contracts in the given state with
// ids greater than afterID, in id order and without their CETs. Passing the
// last id of one page as afterID yields the next page, also while contracts
// leave the state between calls.
func (s *Storage) ListContractsAfter(state ContractState, afterID string, limit int) ([]*Contract, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryContracts(contractColumns+` FROM contracts WHERE state = ? AND id > ? ORDER BY id LIMIT ?`,
		state, afterID, limit)
}

func (s *Storage) queryContracts(query string, args ...interface{}) ([]*Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	defer rows.Close()

	var contracts []*Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

// UpdateContractState sets the state of a contract.
func (s *Storage) UpdateContractState(id string, state ContractState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE contracts SET state = ?, updated_at = ? WHERE id = ?
	`, state, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update contract state: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrContractNotFound
	}
	return nil
}

// RecordCetSignature updates every stored CET with the given txid. Empty
// adaptorSig or signedTx leave the stored values unchanged. A signed CET
// moves its contract to settled; an adaptor signature moves a built
// contract to signing. It returns the number of CETs updated.
func (s *Storage) RecordCetSignature(txid, state, adaptorSig, signedTx string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE cets SET
			state = ?,
			adaptor_sig = COALESCE(NULLIF(?, ''), adaptor_sig),
			signed_tx = COALESCE(NULLIF(?, ''), signed_tx),
			updated_at = ?
		WHERE txid = ?
	`, state, adaptorSig, signedTx, now, txid)
	if err != nil {
		return 0, fmt.Errorf("failed to update cet: %w", err)
	}
	updated, _ := result.RowsAffected()
	if updated == 0 {
		return 0, nil
	}

	if signedTx != "" {
		_, err = tx.Exec(`
			UPDATE contracts SET state = ?, updated_at = ?
			WHERE id IN (SELECT contract_id FROM cets WHERE txid = ?)
				AND state NOT IN (?, ?)
		`, ContractStateSettled, now, txid, ContractStateClosed, ContractStateRefunded)
	} else {
		_, err = tx.Exec(`
			UPDATE contracts SET state = ?, updated_at = ?
			WHERE id IN (SELECT contract_id FROM cets WHERE txid = ?) AND state = ?
		`, ContractStateSigning, now, txid, ContractStateBuilt)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update contract: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cet update: %w", err)
	}
	return updated, nil
}

// MarkBroadcast records that a transaction was broadcast. A funding
// transaction moves its contract to funded, a CET to closed and a refund to
// refunded. Unknown txids are ignored. It reports whether a contract was
// updated.
func (s *Storage) MarkBroadcast(txid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	updates := []struct {
		query string
		args  []interface{}
	}{
		{
			`UPDATE contracts SET state = ?, updated_at = ? WHERE id = ? AND state IN (?, ?)`,
			[]interface{}{ContractStateFunded, now, txid, ContractStateBuilt, ContractStateSigning},
		},
		{
			`UPDATE contracts SET state = ?, updated_at = ? WHERE id IN (SELECT contract_id FROM cets WHERE txid = ?)`,
			[]interface{}{ContractStateClosed, now, txid},
		},
		{
			`UPDATE contracts SET state = ?, updated_at = ? WHERE refund_txid = ?`,
			[]interface{}{ContractStateRefunded, now, txid},
		},
	}

	var total int64
	for _, u := range updates {
		result, err := s.db.Exec(u.query, u.args...)
		if err != nil {
			return false, fmt.Errorf("failed to mark broadcast: %w", err)
		}
		n, _ := result.RowsAffected()
		total += n
	}
	return total > 0, nil
}

// ContractCount returns the number of stored contracts.
func (s *Storage) ContractCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM contracts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count contracts: %w", err)
	}
	return count, nil
}

const contractColumns = `
	SELECT id, chain, network, state, fund_tx, fund_vout, fund_value, funding_script,
		refund_txid, refund_tx, refund_locktime, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContract(row rowScanner) (*Contract, error) {
	var c Contract
	var createdAt int64
	var updatedAt sql.NullInt64

	err := row.Scan(
		&c.ID, &c.Chain, &c.Network, &c.State,
		&c.FundTx, &c.FundVout, &c.FundValue, &c.FundingScript,
		&c.RefundTxID, &c.RefundTx, &c.RefundLockTime,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = nullTime(updatedAt)
	return &c, nil
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
