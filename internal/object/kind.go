package object

import "fmt"

// Kind identifies the type of a stored object.
type Kind uint8

const (
	KindCommit Kind = iota + 1
	KindTree
	KindBlob
	KindTag
	KindRemote
)

var kindNames = map[Kind]string{
	KindCommit: "commit",
	KindTree:   "tree",
	KindBlob:   "blob",
	KindTag:    "tag",
	KindRemote: "remote",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown object kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid object kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
