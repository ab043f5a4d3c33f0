package generic

import (
	"context"
	"strconv"
	"time"

	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/mm"
	"github.com/modemd/internal/modemd/atport"
	"github.com/modemd/internal/modemd/charset"
)

// forceDisconnectTimeout bounds the deactivation sent by ForceDisconnect.
const forceDisconnectTimeout = 5 * time.Second

// bearer is a PDP context defined with AT+CGDCONT.
type bearer struct {
	d     *Driver
	cid   int
	props mm.BearerProperties
}

var (
	_ mm.BearerHandle      = (*bearer)(nil)
	_ mm.ForceDisconnecter = (*bearer)(nil)
)

func (b *bearer) Type() mm.BearerType { return mm.Bearer3gpp }

// CID returns the PDP context identifier.
func (b *bearer) CID() int { return b.cid }

// Connect sets up authentication when credentials are given and activates
// the context.
func (b *bearer) Connect(ctx context.Context) error {
	cid := strconv.Itoa(b.cid)
	if b.props.User != "" {
		cmd := "AT+CGAUTH=" + cid + ",1," + atport.Quote(b.props.User) + "," + atport.Quote(b.props.Password)
		if _, err := b.d.port.Command(ctx, cmd); err != nil {
			return err
		}
	}
	_, err := b.d.port.CommandTimeout(ctx, "AT+CGACT=1,"+cid, b.d.cfg.ConnectTimeout)
	return err
}

// Disconnect deactivates the context.
func (b *bearer) Disconnect(ctx context.Context) error {
	_, err := b.d.port.CommandTimeout(ctx, "AT+CGACT=0,"+strconv.Itoa(b.cid), b.d.cfg.ConnectTimeout)
	return err
}

// ForceDisconnect deactivates the context in the background.
func (b *bearer) ForceDisconnect() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), forceDisconnectTimeout)
		defer cancel()
		if err := b.Disconnect(ctx); err != nil {
			b.d.log.Debug("forced deactivation failed", "cid", b.cid, logging.Err(err))
		}
	}()
}

func pdpType(f mm.IPFamily) string {
	switch f {
	case mm.IPFamilyIPv6:
		return "IPV6"
	case mm.IPFamilyIPv4v6:
		return "IPV4V6"
	}
	return "IP"
}

// CreateBearer defines a PDP context on the lowest free cid.
func (d *Driver) CreateBearer(ctx context.Context, props mm.BearerProperties) (mm.BearerHandle, error) {
	apn, err := charset.Encode(mm.CharsetIRA, props.APN)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	cid := 0
	for c := 1; c <= d.cfg.MaxBearers; c++ {
		if _, used := d.cids[c]; !used {
			cid = c
			break
		}
	}
	if cid == 0 {
		d.mu.Unlock()
		return nil, mm.Errorf(mm.KindTooMany, "no free PDP context")
	}
	b := &bearer{d: d, cid: cid, props: props}
	d.cids[cid] = b
	d.mu.Unlock()

	cmd := "AT+CGDCONT=" + strconv.Itoa(cid) + "," + atport.Quote(pdpType(props.IPType)) + "," + atport.Quote(apn)
	if _, err := d.port.Command(ctx, cmd); err != nil {
		d.releaseCID(cid)
		return nil, err
	}
	return b, nil
}

// DeleteBearer undefines the PDP context. The cid is released even when
// the modem refuses.
func (d *Driver) DeleteBearer(ctx context.Context, h mm.BearerHandle) error {
	b, ok := h.(*bearer)
	if !ok || b.d != d {
		return mm.Errorf(mm.KindInvalidArgs, "bearer does not belong to this driver")
	}
	defer d.releaseCID(b.cid)
	_, err := d.port.Command(ctx, "AT+CGDCONT="+strconv.Itoa(b.cid))
	return err
}

func (d *Driver) releaseCID(cid int) {
	d.mu.Lock()
	delete(d.cids, cid)
	d.mu.Unlock()
}
