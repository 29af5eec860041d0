package title

import "strings"

// Namespace is the numeric namespace a title lives in.
type Namespace int

const (
	NSMedia        Namespace = -2
	NSSpecial      Namespace = -1
	NSMain         Namespace = 0
	NSTalk         Namespace = 1
	NSUser         Namespace = 2
	NSUserTalk     Namespace = 3
	NSProject      Namespace = 4
	NSProjectTalk  Namespace = 5
	NSFile         Namespace = 6
	NSFileTalk     Namespace = 7
	NSHelp         Namespace = 12
	NSHelpTalk     Namespace = 13
	NSCategory     Namespace = 14
	NSCategoryTalk Namespace = 15
)

var canonicalNamespaces = map[Namespace]string{
	NSMedia:        "Media",
	NSSpecial:      "Special",
	NSMain:         "",
	NSTalk:         "Talk",
	NSUser:         "User",
	NSUserTalk:     "User_talk",
	NSProject:      "Project",
	NSProjectTalk:  "Project_talk",
	NSFile:         "File",
	NSFileTalk:     "File_talk",
	NSHelp:         "Help",
	NSHelpTalk:     "Help_talk",
	NSCategory:     "Category",
	NSCategoryTalk: "Category_talk",
}

// Legacy names still accepted as prefixes.
var namespaceAliases = map[string]Namespace{
	"image":      NSFile,
	"image_talk": NSFileTalk,
}

// namespaceTable resolves namespace prefixes in both directions.
type namespaceTable struct {
	names  map[Namespace]string
	lookup map[string]Namespace
}

func newNamespaceTable(extra map[int]string) *namespaceTable {
	t := &namespaceTable{
		names:  make(map[Namespace]string, len(canonicalNamespaces)+len(extra)),
		lookup: make(map[string]Namespace, len(canonicalNamespaces)+len(extra)+len(namespaceAliases)),
	}
	for ns, name := range canonicalNamespaces {
		t.add(ns, name)
	}
	for id, name := range extra {
		t.add(Namespace(id), strings.ReplaceAll(name, " ", "_"))
	}
	for alias, ns := range namespaceAliases {
		t.lookup[alias] = ns
	}
	return t
}

func (t *namespaceTable) add(ns Namespace, name string) {
	t.names[ns] = name
	if name != "" {
		t.lookup[namespaceKey(name)] = ns
	}
}

func (t *namespaceTable) name(ns Namespace) (string, bool) {
	name, ok := t.names[ns]
	return name, ok
}

func (t *namespaceTable) find(prefix string) (Namespace, bool) {
	ns, ok := t.lookup[namespaceKey(prefix)]
	return ns, ok
}

func namespaceKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "_"))
}
