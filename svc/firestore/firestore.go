package firestore

import (
	"context"

	fs "cloud.google.com/go/firestore"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

type SetupOptions struct {
	ProjectID       string
	CredentialsFile string
}

// New creates a firestore client. FIRESTORE_EMULATOR_HOST is honoured by the client library.
func New(ctx context.Context, opts SetupOptions) (*fs.Client, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	client, err := fs.NewClient(ctx, opts.ProjectID, clientOpts...)
	if err != nil {
		return nil, err
	}

	logrus.WithField("project", opts.ProjectID).Info("firestore, ok")

	return client, nil
}
