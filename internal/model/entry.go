package model

import "time"

// Form はホストのフォームビルダーから登録されるフォーム定義。
type Form struct {
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Fields []FormField `json:"fields"`
}

// FormField はフォームの1フィールド。
// 名前やチェックボックスのような複合フィールドは Inputs を持つ。
type FormField struct {
	ID     string      `json:"id"`
	Label  string      `json:"label"`
	Type   string      `json:"type"`
	Inputs []FormInput `json:"inputs,omitempty"`
}

// FormInput は複合フィールドのサブ入力（例: "1.3"）。
type FormInput struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// FieldByID は指定IDのフィールドを返す。"1.3" のようなサブ入力IDの場合は親フィールドを返す。
func (f *Form) FieldByID(id string) *FormField {
	if f == nil {
		return nil
	}
	for i := range f.Fields {
		if f.Fields[i].ID == id {
			return &f.Fields[i]
		}
		for _, in := range f.Fields[i].Inputs {
			if in.ID == id {
				return &f.Fields[i]
			}
		}
	}
	return nil
}

// PaymentStatus はエントリの支払い状態。
type PaymentStatus string

const (
	// PaymentStatusNone は支払いを伴わないエントリ。
	PaymentStatusNone PaymentStatus = ""
	// PaymentStatusPending は支払い待ち。
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid は支払い完了。
	PaymentStatusPaid PaymentStatus = "paid"
)

// Entry はフォーム送信1件分のデータ。
// Values のキーはフィールドID（"3"）またはサブ入力ID（"1.3"）。
type Entry struct {
	ID            string
	FormID        string
	Values        map[string]string
	SourceURL     string
	IP            string
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
}

// NoteType はエントリノートの種別。
type NoteType string

const (
	// NoteTypeSuccess は成功ノート。
	NoteTypeSuccess NoteType = "success"
	// NoteTypeError はエラーノート。
	NoteTypeError NoteType = "error"
)

// Note はエントリに追記される処理結果のメモ。追記専用で更新しない。
type Note struct {
	ID        string
	EntryID   string
	Type      NoteType
	Body      string
	CreatedAt time.Time
}
