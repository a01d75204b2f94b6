package product

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Encode writes p as a JSON object.
func (p *Product) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("product_id")
	e.Int64(p.ID)
	e.FieldStart("code")
	e.Str(p.Code)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("price")
	e.Int64(p.Price)
	e.ObjEnd()
}

// Decode reads p from a JSON object. Unknown fields are skipped.
func (p *Product) Decode(d *jx.Decoder) error {
	if p == nil {
		return errors.New("invalid: unable to decode Product to nil")
	}
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			p.ID, err = d.Int64()
		case "code":
			p.Code, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "price":
			p.Price, err = d.Int64()
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode field %q", key)
		}
		return nil
	})
}

// MarshalJSON implements json.Marshaler.
func (p Product) MarshalJSON() ([]byte, error) {
	e := jx.Encoder{}
	p.Encode(&e)
	return e.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Product) UnmarshalJSON(data []byte) error {
	return p.Decode(jx.DecodeBytes(data))
}

// DecodeList reads a JSON array of products.
func DecodeList(data []byte) ([]Product, error) {
	var out []Product
	if err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var p Product
		if err := p.Decode(d); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	return out, nil
}
