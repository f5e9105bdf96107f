package catalog

import "testing"

func TestCompareNumericWidening(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want int
	}{
		{"int lt int", NewInt(1), NewInt(2), -1},
		{"int eq float", NewInt(1), NewFloat(1.0), 0},
		{"float gt int", NewFloat(2.5), NewInt(2), 1},
		{"text order", NewText("abc"), NewText("abd"), -1},
		{"date order", NewDate(10), NewDate(20), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compare(tt.a, tt.b)
			if err != nil {
				t.Fatalf("compare: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCompareNullErrors(t *testing.T) {
	if _, err := Compare(Null(TypeInt), NewInt(1)); err == nil {
		t.Fatal("comparing NULL should error; predicates handle NULL before comparing")
	}
}

func TestEqualTreatsNullsEqual(t *testing.T) {
	if !Equal(Null(TypeInt), Null(TypeText)) {
		t.Fatal("NULLs of different types must be grouping-equal")
	}
	if Equal(Null(TypeInt), NewInt(0)) {
		t.Fatal("NULL must not equal zero")
	}
}

func TestGroupKeyNullsCollide(t *testing.T) {
	if Null(TypeInt).GroupKey() != Null(TypeText).GroupKey() {
		t.Fatal("all NULLs must share one group key")
	}
	if NewInt(1).GroupKey() == NewText("1").GroupKey() {
		t.Fatal("int 1 and text \"1\" must not collide")
	}
}

func TestCoerce(t *testing.T) {
	v, err := Coerce(NewInt(3), TypeFloat)
	if err != nil || v.Float != 3.0 {
		t.Fatalf("int to float: %v %v", v, err)
	}
	v, err = Coerce(NewText("2024-05-01"), TypeDate)
	if err != nil {
		t.Fatalf("text to date: %v", err)
	}
	if v.String() != "2024-05-01" {
		t.Fatalf("date round trip = %s", v.String())
	}
	if _, err := Coerce(NewText("abc"), TypeFloat); err == nil {
		t.Fatal("bad float text should fail")
	}
	v, err = Coerce(Null(TypeText), TypeInt)
	if err != nil || !v.IsNull || v.Type != TypeInt {
		t.Fatalf("NULL coerces to NULL of target type, got %v %v", v, err)
	}
}

func TestParseDataType(t *testing.T) {
	for name, want := range map[string]DataType{
		"int": TypeInt, "VARCHAR": TypeText, "double": TypeFloat,
		"DATE": TypeDate, "timestamp": TypeDateTime,
	} {
		got, err := ParseDataType(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got != want {
			t.Fatalf("%s = %v, want %v", name, got, want)
		}
	}
	if _, err := ParseDataType("BLOB"); err == nil {
		t.Fatal("unknown type should error")
	}
}

func TestTableDefColumnLookup(t *testing.T) {
	def := &TableDef{
		Columns:    []ColumnDef{{Name: "ID", Type: TypeInt}, {Name: "name", Type: TypeText}},
		PrimaryKey: "id",
	}
	if def.ColumnIndex("id") != 0 {
		t.Fatal("column lookup must be case-insensitive")
	}
	if def.PrimaryKeyIndex() != 0 {
		t.Fatal("primary key index wrong")
	}
	if def.HasColumn("missing") {
		t.Fatal("phantom column")
	}
}
