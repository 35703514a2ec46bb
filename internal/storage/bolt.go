package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"LiveBoard/internal/state"

	bolt "go.etcd.io/bbolt"
)

var (
	boltBoards = []byte("boards")
	boltOps    = []byte("ops")
	boltIDs    = []byte("ids")
)

// BoltStore keeps every board in its own bucket under "boards":
//
//	ops: 8-byte big endian sequence -> wire operation
//	ids: operation id -> 8-byte big endian sequence
type BoltStore struct {
	db *bolt.DB
}

func OpenBolt(path string) (*BoltStore, error) {
	if path == "" {
		return nil, errors.New("bolt path is required")
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Init(context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBoards)
		return err
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Append(_ context.Context, boardID string, op state.Operation) (committed state.Operation, dup bool, err error) {
	if err := checkAppend(boardID, op); err != nil {
		return state.Operation{}, false, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		board, err := tx.Bucket(boltBoards).CreateBucketIfNotExists([]byte(boardID))
		if err != nil {
			return err
		}
		ops, err := board.CreateBucketIfNotExists(boltOps)
		if err != nil {
			return err
		}
		ids, err := board.CreateBucketIfNotExists(boltIDs)
		if err != nil {
			return err
		}

		key := []byte(op.ID.String())
		if seq := ids.Get(key); seq != nil {
			committed, err = state.DecodeOperation(ops.Get(seq))
			dup = true
			return err
		}

		var head uint64
		if k, _ := ops.Cursor().Last(); k != nil {
			head = binary.BigEndian.Uint64(k)
		}
		committed = op.WithSequence(head + 1)
		wire, err := state.EncodeOperation(committed)
		if err != nil {
			return err
		}
		seq := seqKey(committed.Sequence)
		if err := ops.Put(seq, wire); err != nil {
			return err
		}
		return ids.Put(key, seq)
	})
	if err != nil {
		return state.Operation{}, false, fmt.Errorf("append op: %w", err)
	}
	return committed, dup, nil
}

func (s *BoltStore) Range(_ context.Context, boardID string, from, to uint64) (ops []state.Operation, err error) {
	if from == 0 {
		from = 1
	}
	err = s.db.View(func(tx *bolt.Tx) error {
		bucket := s.bucket(tx, boardID, boltOps)
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.Seek(seqKey(from)); k != nil; k, v = c.Next() {
			if to > 0 && binary.BigEndian.Uint64(k) > to {
				break
			}
			op, err := state.DecodeOperation(v)
			if err != nil {
				return err
			}
			ops = append(ops, op)
		}
		return nil
	})
	return ops, err
}

func (s *BoltStore) Head(_ context.Context, boardID string) (head uint64, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		if bucket := s.bucket(tx, boardID, boltOps); bucket != nil {
			if k, _ := bucket.Cursor().Last(); k != nil {
				head = binary.BigEndian.Uint64(k)
			}
		}
		return nil
	})
	return head, err
}

func (s *BoltStore) Lookup(_ context.Context, boardID string, id state.OpID) (op state.Operation, found bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		ids := s.bucket(tx, boardID, boltIDs)
		if ids == nil {
			return nil
		}
		seq := ids.Get([]byte(id.String()))
		if seq == nil {
			return nil
		}
		found = true
		op, err = state.DecodeOperation(s.bucket(tx, boardID, boltOps).Get(seq))
		return err
	})
	return op, found, err
}

func (s *BoltStore) bucket(tx *bolt.Tx, boardID string, name []byte) *bolt.Bucket {
	root := tx.Bucket(boltBoards)
	if root == nil {
		return nil
	}
	board := root.Bucket([]byte(boardID))
	if board == nil {
		return nil
	}
	return board.Bucket(name)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
