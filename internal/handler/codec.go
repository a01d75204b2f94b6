package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/pos-register/internal/domain/purchase"
)

const maxBodyBytes = 1 << 20

type lookupRequest struct {
	Code    string
	CodeSet bool
}

func (r *lookupRequest) Decode(d *jx.Decoder) error {
	var seen bool
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			if seen {
				return errors.New(`duplicate key "code"`)
			}
			seen = true
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "decode code")
			}
			r.Code, r.CodeSet = v, true
			return nil
		default:
			return d.Skip()
		}
	})
}

type purchaseRequest struct {
	Items          []purchase.Item
	EmployeeCode   string
	StoreCode      string
	RegisterNumber string
	// TotalAmount is the register's own sum. It is only compared, never stored.
	TotalAmount    int64
	TotalAmountSet bool
}

func (r *purchaseRequest) Decode(d *jx.Decoder) error {
	seen := make(map[string]struct{}, 5)
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "items", "employee_code", "store_code", "register_number", "total_amount":
			if _, dup := seen[key]; dup {
				return errors.Errorf("duplicate key %q", key)
			}
			seen[key] = struct{}{}
		default:
			return d.Skip()
		}

		var err error
		switch key {
		case "items":
			if d.Next() == jx.Null {
				return d.Null()
			}
			err = d.Arr(func(d *jx.Decoder) error {
				var it purchase.Item
				if err := decodeItem(d, &it); err != nil {
					return err
				}
				r.Items = append(r.Items, it)
				return nil
			})
		case "employee_code":
			r.EmployeeCode, err = d.Str()
		case "store_code":
			r.StoreCode, err = d.Str()
		case "register_number":
			r.RegisterNumber, err = d.Str()
		case "total_amount":
			if d.Next() == jx.Null {
				return d.Null()
			}
			r.TotalAmount, err = d.Int64()
			r.TotalAmountSet = err == nil
		}
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		return nil
	})
}

func decodeItem(d *jx.Decoder, it *purchase.Item) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			it.ProductID, err = d.Int64()
		case "code":
			it.Code, err = d.Str()
		case "name":
			it.Name, err = d.Str()
		case "price":
			it.Price, err = d.Int64()
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode item %q", key)
		}
		return nil
	})
}

func encodeTransaction(e *jx.Encoder, tx *purchase.Transaction) {
	e.ObjStart()
	e.FieldStart("transaction_id")
	e.Int64(tx.ID)
	e.FieldStart("created_at")
	e.Str(tx.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("employee_code")
	e.Str(tx.EmployeeCode)
	e.FieldStart("store_code")
	e.Str(tx.StoreCode)
	e.FieldStart("register_number")
	e.Str(tx.RegisterNumber)
	e.FieldStart("total_amount")
	e.Int64(tx.TotalAmount)
	e.FieldStart("items")
	e.ArrStart()
	for _, li := range tx.Lines {
		e.ObjStart()
		e.FieldStart("line_sequence")
		e.Int(li.Sequence)
		e.FieldStart("product_id")
		e.Int64(li.ProductID)
		e.FieldStart("code")
		e.Str(li.ProductCode)
		e.FieldStart("name")
		e.Str(li.ProductName)
		e.FieldStart("price")
		e.Int64(li.ProductPrice)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

// decodeBody reads a size-limited JSON body into v. Anything but whitespace
// after the value is rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{ Decode(*jx.Decoder) error }) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(data) == 0 {
		return errors.New("empty body")
	}
	if err := jx.DecodeBytes(data).Validate(); err != nil {
		return errors.Wrap(err, "invalid json")
	}
	return v.Decode(jx.DecodeBytes(data))
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	})
}
