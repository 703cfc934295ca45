//go:build unit || !integration

package models_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/refmesh/refmesh/pkg/models"
)

type IDsSuite struct {
	suite.Suite
}

func TestIDsSuite(t *testing.T) {
	suite.Run(t, new(IDsSuite))
}

func (s *IDsSuite) TestNewObjectID() {
	id := models.NewObjectID()
	s.Require().True(id.Valid())
	s.Require().Len(id.String(), 36)
	s.Require().NotEqual(id, models.NewObjectID())
}

func (s *IDsSuite) TestShortID() {
	id := models.NewObjectID()
	s.Require().Len(id.ShortID(), 12)
	s.Require().Equal(id.String()[:12], id.ShortID())

	s.Require().Equal("obj-short", models.ObjectID("obj-short").ShortID())
}

func (s *IDsSuite) TestContainedIDs() {
	a := models.NewObjectID()
	b := models.NewObjectID()

	payload := []byte(fmt.Sprintf(`{"first": "%s", "second": "%s", "again": "%s"}`, a, b, a))
	ids := models.ContainedIDs(payload)
	s.Require().Equal([]models.ObjectID{a, b}, ids)
}

func (s *IDsSuite) TestContainedIDsNone() {
	s.Require().Nil(models.ContainedIDs([]byte(`{"value": 42}`)))
	s.Require().Nil(models.ContainedIDs(nil))
	// a malformed token must not match
	s.Require().Nil(models.ContainedIDs([]byte("obj-nothex")))
}
