package mcpserver

// ContentFormatContract describes the serialized document model that tools
// read and the editor writes.
const ContentFormatContract = `# Quire Content Format

Document content is a JSON rich-text delta holding inserts only:

` + "```" + `json
{"ops":[
  {"insert":"Weekly standup"},
  {"insert":"\n","attributes":{"header":1}},
  {"insert":"Alice","attributes":{"bold":true}},
  {"insert":" to review the design doc\n"}
]}
` + "```" + `

## Rules

1. The top-level object has a single ` + "`" + `ops` + "`" + ` array.
2. Stored content uses ` + "`" + `insert` + "`" + ` ops only. ` + "`" + `retain` + "`" + ` and ` + "`" + `delete` + "`" + ` appear in
   live edits relayed between editors, never in stored content.
3. An insert is a non-empty string or an embed object such as ` + "`" + `{"image":"https://..."}` + "`" + `.
4. ` + "`" + `attributes` + "`" + ` is an optional object of formats (bold, italic, header, list, link...).
5. A document always ends with a newline. An empty document is ` + "`" + `{"ops":[{"insert":"\n"}]}` + "`" + `.
6. Offsets count UTF-16 code units; an embed has length 1.

## Tree

Documents form a three-level tree: workspace, folder, file. Every level has a
title, an icon id, an optional banner URL and its own content. A non-empty
` + "`" + `trashedReason` + "`" + ` marks a document as trashed; restoring clears it.

Tools here change storage directly. Open editors converge through the change
feed: titles, icons and trash markers update live, while content of a
document open in an editor stays with that editor.
`
