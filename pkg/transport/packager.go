package transport

import "io"

// Packager sends and receives packages over a Transporter.
type Packager struct {
	transporter *Transporter
}

// NewPackager wraps conn in a Transporter.
func NewPackager(conn io.ReadWriteCloser) *Packager {
	return &Packager{transporter: NewTransporter(conn)}
}

func (p *Packager) Send(pkg Package) error {
	return p.transporter.Send(Encode(pkg))
}

func (p *Packager) Receive() (Package, error) {
	body, err := p.transporter.Receive()
	if err != nil {
		return Package{}, err
	}
	return Decode(body)
}

func (p *Packager) Close() error {
	return p.transporter.Close()
}
