package storage

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type MemoryStoreTestSuite struct {
	suite.Suite

	ctx context.Context
	ms  *MemoryStore
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreTestSuite))
}

func (s *MemoryStoreTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.ms = NewMemoryStore()
}

func (s *MemoryStoreTestSuite) TestPutGet() {
	s.Require().NoError(s.ms.Put(s.ctx, "user", "a", []byte("value-a")))

	got, err := s.ms.Get(s.ctx, "user", "a")
	s.Require().NoError(err)
	s.Equal([]byte("value-a"), got)

	// The store holds its own copy.
	got[0] = 'X'

	again, err := s.ms.Get(s.ctx, "user", "a")
	s.Require().NoError(err)
	s.Equal([]byte("value-a"), again)
}

func (s *MemoryStoreTestSuite) TestGetMissing() {
	got, err := s.ms.Get(s.ctx, "user", "nope")
	s.NoError(err)
	s.Nil(got)
}

func (s *MemoryStoreTestSuite) TestDelete() {
	s.Require().NoError(s.ms.Put(s.ctx, "user", "a", []byte("v")))
	s.Require().NoError(s.ms.Delete(s.ctx, "user", "a"))

	got, err := s.ms.Get(s.ctx, "user", "a")
	s.NoError(err)
	s.Nil(got)

	// Deleting a missing record is not an error.
	s.NoError(s.ms.Delete(s.ctx, "user", "a"))
}

func (s *MemoryStoreTestSuite) TestForEach() {
	s.Require().NoError(s.ms.Put(s.ctx, "user", "b", []byte("2")))
	s.Require().NoError(s.ms.Put(s.ctx, "user", "a", []byte("1")))
	s.Require().NoError(s.ms.Put(s.ctx, "note", "z", []byte("other kind")))

	var ids []string

	err := s.ms.ForEach(s.ctx, "user", func(id string, value []byte) error {
		ids = append(ids, id)

		return nil
	})
	s.Require().NoError(err)

	// Deterministic id order.
	s.Equal([]string{"a", "b"}, ids)
}

func (s *MemoryStoreTestSuite) TestForEachPropagatesError() {
	s.Require().NoError(s.ms.Put(s.ctx, "user", "a", []byte("1")))

	boom := errors.New("boom")

	err := s.ms.ForEach(s.ctx, "user", func(id string, value []byte) error {
		return boom
	})
	s.Equal(boom, err)
}

func (s *MemoryStoreTestSuite) TestBulkPut() {
	s.Require().NoError(s.ms.BulkPut(s.ctx, "user", map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
	}))

	got, err := s.ms.Get(s.ctx, "user", "b")
	s.Require().NoError(err)
	s.Equal([]byte("2"), got)
}

func (s *MemoryStoreTestSuite) TestKinds() {
	s.Require().NoError(s.ms.Put(s.ctx, "note", "n", []byte("1")))
	s.Require().NoError(s.ms.Put(s.ctx, "user", "u", []byte("2")))
	s.Require().NoError(s.ms.Put(s.ctx, "_probe", "canary", []byte("3")))

	kinds, err := s.ms.Kinds(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"_probe", "note", "user"}, kinds)
}

func (s *MemoryStoreTestSuite) TestSalt() {
	salt, err := s.ms.LoadSalt(s.ctx)
	s.Require().NoError(err)
	s.Nil(salt)

	s.Require().NoError(s.ms.StoreSalt(s.ctx, []byte("installation-salt")))

	salt, err = s.ms.LoadSalt(s.ctx)
	s.Require().NoError(err)
	s.Equal([]byte("installation-salt"), salt)
}
