package backend

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

const TypeAzureBlob = "azblob"

func init() {
	Register(TypeAzureBlob, func(ref string, r Resolver) (Backend, error) { return NewAzureBlob(ref, r), nil })
}

// NewAzureBlob returns an object store backend on Azure Blob Storage.
// Buckets are containers; paths may be written as "az://container/blob".
func NewAzureBlob(ref string, r Resolver) *ObjectStore {
	return newObjectStore(TypeAzureBlob, "az", ref, r, dialAzureBlob)
}

// Credential kinds, in the order dialAzureBlob tries them.
const (
	azureAuthSAS              = "sas"
	azureAuthSharedKey        = "shared-key"
	azureAuthServicePrincipal = "service-principal"
	azureAuthDefault          = "default"
)

// azureAuth picks the credential kind for c. Priority:
// 1) SAS  2) shared key  3) service principal  4) DefaultAzureCredential.
func azureAuth(c Connection) string {
	switch {
	case c.Get("sasToken", "") != "":
		return azureAuthSAS
	case c.Get("account", c.User) != "" && c.Password != "" && c.Get("clientId", "") == "":
		return azureAuthSharedKey
	case c.Get("clientId", "") != "" && c.Password != "" && c.Get("tenantId", "") != "":
		return azureAuthServicePrincipal
	default:
		return azureAuthDefault
	}
}

func azureEndpoint(c Connection) (string, error) {
	if endpoint := c.Get("endpoint", ""); endpoint != "" {
		return endpoint, nil
	}
	account := c.Get("account", c.User)
	if account == "" {
		return "", fmt.Errorf("azblob: account or endpoint is required")
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", account), nil
}

// dialAzureBlob builds a client from the connection.
// Extra keys: account, container, endpoint, sasToken, tenantId, clientId.
func dialAzureBlob(_ context.Context, c Connection) (objectClient, string, error) {
	endpoint, err := azureEndpoint(c)
	if err != nil {
		return nil, "", err
	}

	var client *azblob.Client
	switch azureAuth(c) {
	case azureAuthSAS:
		sas := strings.TrimPrefix(strings.TrimSpace(c.Get("sasToken", "")), "?")
		client, err = azblob.NewClientWithNoCredential(endpoint+"?"+sas, nil)
	case azureAuthSharedKey:
		cred, credErr := azblob.NewSharedKeyCredential(c.Get("account", c.User), c.Password)
		if credErr != nil {
			return nil, "", credErr
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
	case azureAuthServicePrincipal:
		cred, credErr := azidentity.NewClientSecretCredential(c.Get("tenantId", ""), c.Get("clientId", ""), c.Password, nil)
		if credErr != nil {
			return nil, "", credErr
		}
		client, err = azblob.NewClient(endpoint, cred, nil)
	default:
		cred, credErr := azidentity.NewDefaultAzureCredential(nil)
		if credErr != nil {
			return nil, "", credErr
		}
		client, err = azblob.NewClient(endpoint, cred, nil)
	}
	if err != nil {
		return nil, "", err
	}
	return &azureClient{api: client}, c.Get("container", ""), nil
}

// blobAPI is the subset of *azblob.Client the object store needs.
type blobAPI interface {
	NewListBlobsFlatPager(containerName string, o *azblob.ListBlobsFlatOptions) *runtime.Pager[azblob.ListBlobsFlatResponse]
	DownloadStream(ctx context.Context, containerName, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
	UploadStream(ctx context.Context, containerName, blobName string, body io.Reader, o *azblob.UploadStreamOptions) (azblob.UploadStreamResponse, error)
	DeleteBlob(ctx context.Context, containerName, blobName string, o *azblob.DeleteBlobOptions) (azblob.DeleteBlobResponse, error)
}

type azureClient struct {
	api blobAPI
}

func (c *azureClient) Get(ctx context.Context, container, blob string) (io.ReadCloser, error) {
	resp, err := c.api.DownloadStream(ctx, container, blob, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *azureClient) Put(ctx context.Context, container, blob string, body io.ReadSeeker) error {
	_, err := c.api.UploadStream(ctx, container, blob, body, nil)
	return err
}

// Exists finds the exact blob through a prefix listing, which works with
// container-scoped SAS tokens that cannot read blob properties.
func (c *azureClient) Exists(ctx context.Context, container, blob string) (bool, error) {
	pager := c.api.NewListBlobsFlatPager(container, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(blob),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return false, err
		}
		if page.Segment == nil {
			continue
		}
		for _, it := range page.Segment.BlobItems {
			if it.Name != nil && *it.Name == blob {
				return true, nil
			}
		}
	}
	return false, nil
}

func (c *azureClient) List(ctx context.Context, container, prefix string, limit int) ([]string, error) {
	opts := &azblob.ListBlobsFlatOptions{Prefix: to.Ptr(prefix)}
	if limit > 0 {
		opts.MaxResults = to.Ptr(int32(limit))
	}

	var names []string
	pager := c.api.NewListBlobsFlatPager(container, opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		if page.Segment == nil {
			continue
		}
		for _, it := range page.Segment.BlobItems {
			if it.Name == nil || strings.HasSuffix(*it.Name, "/") {
				continue
			}
			names = append(names, *it.Name)
			if limit > 0 && len(names) >= limit {
				return names, nil
			}
		}
	}
	return names, nil
}

func (c *azureClient) Delete(ctx context.Context, container, blob string) error {
	_, err := c.api.DeleteBlob(ctx, container, blob, nil)
	return err
}
