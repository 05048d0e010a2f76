package mcpserver

// SessionFormatContract describes the YAML session document that sits in a
// project directory as dvp_metadata.yaml.
const SessionFormatContract = `# dvpipe Session Format Contract

A session document carries the Dataverse metadata of one LMT project dataset.
It lives in the project directory as ` + "`" + `dvp_metadata.yaml` + "`" + ` and is read when the
dataset index is built.

## Structure

` + "```" + `yaml
# LMTData metadata block version 1.2.1
LMTData:
  projectID: 2021-S1-US-3          # REQUIRED
  targetName: NGC 5948
  RA: 14.01                        # degrees
  DEC: -43.21
  velFrame: LSR                    # controlled vocabulary
  obsInfo:                         # compound field: always a list of mappings
    - obsNum: 12345
      intTime: 30 min              # quantities may carry a unit
      obsGoal: SCIENCE
  band:
    - bandNum: 1
      formula: CS
      transition: 2-1
      frequencyCenter: 97.981      # GHz
# citation metadata block version Dataverse 5.12.1
citation:
  title: SEQUOIA observations of NGC 5948
  author:
    - authorName: Pound, Marc
      authorAffiliation: University of Maryland
` + "```" + `

## Rules

1. **One top-level key per block.** Only ` + "`" + `LMTData` + "`" + ` and ` + "`" + `citation` + "`" + ` are recognized.
   The ` + "`" + `# <block> metadata block version <version>` + "`" + ` comments are informational.
2. **Field names are case sensitive** and must exist in the block. Use ` + "`" + `list_fields` + "`" + `
   or ` + "`" + `describe_field` + "`" + ` to look them up. Unknown fields are rejected.
3. **Compound fields** (` + "`" + `obsInfo` + "`" + `, ` + "`" + `band` + "`" + `, ` + "`" + `author` + "`" + `, ...) are lists of mappings whose
   keys are the child fields. Child fields never appear at the top level.
4. **Controlled vocabulary** fields accept only the listed values, matched exactly.
5. **Units.** Numeric fields with a schema unit accept a bare number in that unit or a
   string ` + "`" + `"<number> <unit>"` + "`" + ` in a compatible unit, which is converted
   (e.g. ` + "`" + `frequencyCenter: 115271.2 MHz` + "`" + ` is stored as 115.2712 GHz).
6. **Types.** ` + "`" + `int` + "`" + ` fields take whole numbers, ` + "`" + `float` + "`" + ` fields any number, boolean
   fields ` + "`" + `true` + "`" + `/` + "`" + `false` + "`" + `; every other field is stored as text.
7. **Required fields** are enforced when a dataset is uploaded. ` + "`" + `projectID` + "`" + ` and the
   citation ` + "`" + `title` + "`" + ` default to the project directory name.
8. **Encoding** is UTF-8, two-space indentation.

## Validation

Pass the document to ` + "`" + `convert_metadata` + "`" + ` with ` + "`" + `from: session` + "`" + ` and
` + "`" + `validate: true` + "`" + `. An error names the offending field and, for controlled
vocabulary fields, the allowed values.
`
