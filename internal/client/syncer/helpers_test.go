package syncer

import (
	"errors"

	"github.com/dmitrijs2005/garagekeeper/internal/client/remote"
)

func remoteRejected() error {
	return remote.NewError(remote.KindRejected, "upsert", errors.New("invalid record"))
}
