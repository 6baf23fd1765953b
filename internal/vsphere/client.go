// Package vsphere wraps govmomi to give the rest of opsnav a small,
// ESXi-host-scoped API: connect, find a VM several ways, poll tasks,
// answer the "I copied it" question, and drive guest operations.
package vsphere

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/session"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/soap"
	vim25types "github.com/vmware/govmomi/vim25/types"

	"opsnav/internal/apperr"
	"opsnav/internal/logger"
	"opsnav/internal/retry"
)

// Client is a logged-in session against a single ESXi host. Every
// background worker (reconciler, clone orchestrator, power controller)
// opens its own Client and closes it when done — sessions are not shared
// across goroutines.
type Client struct {
	soap    *govmomi.Client
	finder  *find.Finder
	dc      *object.Datacenter
	address string
	logger  logger.Logger
	retryer *retry.Retryer
}

// Connect logs into the ESXi host at address:port with username/password.
// insecure disables TLS certificate verification, matching the original's
// unverified SSL context — ESXi hosts are usually reached with
// self-signed certs.
func Connect(ctx context.Context, address string, port int, username, password string, insecure bool, log logger.Logger) (*Client, error) {
	rawURL := fmt.Sprintf("https://%s:%d/sdk", address, port)
	u, err := soap.ParseURL(rawURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.ValidationKind, "parse host URL", err)
	}
	u.User = url.UserPassword(username, password)

	soapClient := soap.NewClient(u, insecure)
	soapClient.DefaultTransport().TLSClientConfig = &tls.Config{InsecureSkipVerify: insecure}

	vimClient, err := vim25.NewClient(ctx, soapClient)
	if err != nil {
		return nil, apperr.Wrap(apperr.HypervisorKind, "create vim25 client", err)
	}

	client := &govmomi.Client{
		Client:         vimClient,
		SessionManager: session.NewManager(vimClient),
	}

	retryer := retry.NewRetryer(retry.DefaultRetryConfig(), log)
	err = retryer.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			log.Info("retrying host login", "attempt", attempt, "address", address)
		}
		return client.Login(ctx, u.User)
	}, "host login")
	if err != nil {
		return nil, apperr.Wrap(classifyLoginError(err), "login to host "+address, err)
	}

	finder := find.NewFinder(client.Client, true)
	dc, err := finder.DefaultDatacenter(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.HypervisorKind, "find datacenter on "+address, err)
	}
	finder.SetDatacenter(dc)

	return &Client{
		soap:    client,
		finder:  finder,
		dc:      dc,
		address: address,
		logger:  log,
		retryer: retryer,
	}, nil
}

// classifyLoginError distinguishes a credential rejection (AuthKind, maps
// to 502 — the hypervisor actively rejected them) from a transport-level
// failure.
func classifyLoginError(err error) apperr.Kind {
	msg := err.Error()
	if containsAny(msg, "incorrect user name", "login failure", "permission to log on", "account locked", "password has expired") {
		return apperr.AuthKind
	}
	return apperr.HypervisorKind
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// Close logs out of the ESXi host.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return c.soap.Logout(ctx)
}

// Datacenter exposes the resolved datacenter for callers building custom
// govmomi calls (e.g. file-manager operations keyed to it).
func (c *Client) Datacenter() *object.Datacenter { return c.dc }

// ServiceContent exposes the SOAP service content, needed for the
// guest-ops and file-manager APIs that hang off it directly.
func (c *Client) ServiceContent() vim25types.ServiceContent {
	return c.soap.ServiceContent
}

// VimClient exposes the underlying vim25 client for packages that need
// raw access (guestconfig's file-transfer HTTP PUT).
func (c *Client) VimClient() *vim25.Client { return c.soap.Client }

// Address returns the host address this client is connected to.
func (c *Client) Address() string { return c.address }
