package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"duskmoo/db"
	"duskmoo/parser"
	"duskmoo/types"
	"duskmoo/vm"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect a database file offline, without starting the server",
}

func init() {
	inspectCmd.PersistentFlags().String("db", "Test.db", "Database file path")

	inspectCmd.AddCommand(verbCmd)
	inspectCmd.AddCommand(verbsCmd)
	inspectCmd.AddCommand(objCmd)
	inspectCmd.AddCommand(objRawCmd)
	inspectCmd.AddCommand(propCmd)
	inspectCmd.AddCommand(evalCmd)
	inspectCmd.AddCommand(verbLookupCmd)
	inspectCmd.AddCommand(ancestryCmd)
	inspectCmd.AddCommand(findPropertyCmd)
}

func loadStoreFromFlags(cmd *cobra.Command) (*db.Store, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	database, err := db.LoadDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("load database %s: %w", dbPath, err)
	}
	return database.NewStoreFromDatabase(), nil
}

// parseObjID parses "#N" or "N" to types.ObjID
func parseObjID(s string) (types.ObjID, error) {
	s = strings.TrimPrefix(s, "#")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid object ID: %s", s)
	}
	return types.ObjID(id), nil
}

// parseObjVerb parses "#N:verbname" to (objID, verbName)
func parseObjVerb(s string) (types.ObjID, string, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("invalid format, expected #obj:verb (e.g., #0:do_login_command)")
	}
	objID, err := parseObjID(parts[0])
	if err != nil {
		return 0, "", err
	}
	return objID, parts[1], nil
}

var verbCmd = &cobra.Command{
	Use:   "verb #obj:verb",
	Short: "Dump a verb's source code (e.g., #0:do_login_command)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStoreFromFlags(cmd)
		if err != nil {
			return err
		}
		objID, verbName, err := parseObjVerb(args[0])
		if err != nil {
			return err
		}

		verb, defObjID, err := store.FindVerb(objID, verbName)
		if err != nil {
			// Fall back to a direct, non-inherited lookup with the colon-prefixed
			// key some imported cores store builtin-shadowing verbs under.
			obj := store.Get(objID)
			if obj == nil {
				return fmt.Errorf("object #%d not found", objID)
			}
			v, ok := obj.Verbs[verbName]
			if !ok {
				v, ok = obj.Verbs[":"+verbName]
			}
			if !ok {
				fmt.Printf("Verb %q not found on #%d\n", verbName, objID)
				fmt.Println("Available verbs:")
				for name := range obj.Verbs {
					fmt.Printf("  %s\n", name)
				}
				return fmt.Errorf("verb not found")
			}
			verb, defObjID = v, objID
		}

		fmt.Printf("=== #%d:%s ===\n", defObjID, verbName)
		fmt.Printf("Names: %s\n", strings.Join(verb.Names, " "))
		fmt.Printf("Owner: #%d\n", verb.Owner)
		fmt.Printf("Perms: %s\n", verb.Perms.String())
		fmt.Printf("--- Code (%d lines) ---\n", len(verb.Code))
		for i, line := range verb.Code {
			fmt.Printf("%4d: %s\n", i+1, line)
		}
		return nil
	},
}

var verbsCmd = &cobra.Command{
	Use:   "verbs #obj",
	Short: "List all verbs on an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStoreFromFlags(cmd)
		if err != nil {
			return err
		}
		objID, err := parseObjID(args[0])
		if err != nil {
			return err
		}
		obj := store.Get(objID)
		if obj == nil {
			return fmt.Errorf("object #%d not found", objID)
		}

		fmt.Printf("=== Verbs on #%d (%s) ===\n", objID, obj.Name)
		fmt.Printf("Count: %d\n\n", len(obj.VerbList))
		for i, verb := range obj.VerbList {
			fmt.Printf("%3d. %-30s owner=#%-6d perms=%-4s lines=%d\n",
				i, strings.Join(verb.Names, " "), verb.Owner, verb.Perms.String(), len(verb.Code))
		}
		return nil
	},
}

var objCmd = &cobra.Command{
	Use:   "obj #obj",
	Short: "Show an object's properties, verbs, parents and children",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStoreFromFlags(cmd)
		if err != nil {
			return err
		}
		objID, err := parseObjID(args[0])
		if err != nil {
			return err
		}
		obj := store.Get(objID)
		if obj == nil {
			return fmt.Errorf("object #%d not found", objID)
		}

		fmt.Printf("=== Object #%d ===\n", objID)
		fmt.Printf("Name:     %s\n", obj.Name)
		fmt.Printf("Owner:    #%d\n", obj.Owner)
		fmt.Printf("Location: #%d\n", obj.Location)
		fmt.Printf("Flags:    0x%x", obj.Flags)

		var flagNames []string
		if obj.Flags.Has(db.FlagUser) {
			flagNames = append(flagNames, "player")
		}
		if obj.Flags.Has(db.FlagProgrammer) {
			flagNames = append(flagNames, "programmer")
		}
		if obj.Flags.Has(db.FlagWizard) {
			flagNames = append(flagNames, "wizard")
		}
		if obj.Flags.Has(db.FlagRead) {
			flagNames = append(flagNames, "r")
		}
		if obj.Flags.Has(db.FlagWrite) {
			flagNames = append(flagNames, "w")
		}
		if obj.Flags.Has(db.FlagFertile) {
			flagNames = append(flagNames, "f")
		}
		if len(flagNames) > 0 {
			fmt.Printf(" (%s)", strings.Join(flagNames, ", "))
		}
		fmt.Println()

		fmt.Printf("Parents:  ")
		if len(obj.Parents) == 0 {
			fmt.Println("(none)")
		} else {
			for i, p := range obj.Parents {
				if i > 0 {
					fmt.Print(", ")
				}
				fmt.Printf("#%d", p)
			}
			fmt.Println()
		}

		fmt.Printf("Children: ")
		if len(obj.Children) == 0 {
			fmt.Println("(none)")
		} else {
			for i, c := range obj.Children {
				if i > 0 {
					fmt.Print(", ")
				}
				fmt.Printf("#%d", c)
			}
			fmt.Println()
		}

		fmt.Printf("\n--- Properties (%d) ---\n", len(obj.Properties))
		propNames := make([]string, 0, len(obj.Properties))
		for name := range obj.Properties {
			propNames = append(propNames, name)
		}
		sort.Strings(propNames)
		for _, name := range propNames {
			prop := obj.Properties[name]
			valStr := fmt.Sprintf("%v", prop.Value)
			if len(valStr) > 60 {
				valStr = valStr[:57] + "..."
			}
			fmt.Printf("  %-25s = %-60s  owner=#%-6d perms=%s\n",
				name, valStr, prop.Owner, prop.Perms.String())
		}

		fmt.Printf("\n--- Verbs (%d) ---\n", len(obj.VerbList))
		for i, verb := range obj.VerbList {
			fmt.Printf("  %3d. %-30s owner=#%-6d perms=%-4s lines=%d\n",
				i, strings.Join(verb.Names, " "), verb.Owner, verb.Perms.String(), len(verb.Code))
		}
		return nil
	},
}

var objRawCmd = &cobra.Command{
	Use:   "obj-raw #obj",
	Short: "Dump raw in-memory database fields for an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStoreFromFlags(cmd)
		if err != nil {
			return err
		}
		objID, err := parseObjID(args[0])
		if err != nil {
			return err
		}
		obj := store.Get(objID)
		if obj == nil {
			return fmt.Errorf("object #%d not found", objID)
		}

		fmt.Printf("=== Raw Object Data #%d ===\n", objID)
		fmt.Printf("ID:         %d\n", obj.ID)
		fmt.Printf("Name:       %q\n", obj.Name)
		fmt.Printf("Owner:      #%d\n", obj.Owner)
		fmt.Printf("Location:   #%d\n", obj.Location)
		fmt.Printf("Flags:      0x%x (%d)\n", obj.Flags, obj.Flags)
		fmt.Printf("Anonymous:  %v\n", obj.Anonymous)

		fmt.Printf("\nParents:    [")
		for i, p := range obj.Parents {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Printf("#%d", p)
		}
		fmt.Printf("] (count=%d)\n", len(obj.Parents))

		fmt.Printf("Children:   [")
		for i, c := range obj.Children {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Printf("#%d", c)
		}
		fmt.Printf("] (count=%d)\n", len(obj.Children))

		fmt.Printf("Contents:   [")
		for i, c := range obj.Contents {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Printf("#%d", c)
		}
		fmt.Printf("] (count=%d)\n", len(obj.Contents))

		fmt.Printf("\nVerbList:   %d verbs\n", len(obj.VerbList))
		for i, v := range obj.VerbList {
			fmt.Printf("  [%d] %q (names=%d, owner=#%d, code=%d lines)\n",
				i, v.Name, len(v.Names), v.Owner, len(v.Code))
		}

		fmt.Printf("\nVerbs map:  %d entries\n", len(obj.Verbs))

		fmt.Printf("\nProperties: %d entries\n", len(obj.Properties))
		for name, prop := range obj.Properties {
			fmt.Printf("  %q: owner=#%d perms=%s type=%T\n",
				name, prop.Owner, prop.Perms.String(), prop.Value)
		}
		return nil
	},
}

var propCmd = &cobra.Command{
	Use:   "prop #obj propname",
	Short: "Show a single property's value on an object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStoreFromFlags(cmd)
		if err != nil {
			return err
		}
		objID, err := parseObjID(args[0])
		if err != nil {
			return err
		}
		propName := args[1]

		obj := store.Get(objID)
		if obj == nil {
			return fmt.Errorf("object #%d not found", objID)
		}

		prop, ok := obj.Properties[propName]
		if !ok {
			fmt.Printf("Property %q not found on #%d\n", propName, objID)
			fmt.Println("Available properties:")
			for name := range obj.Properties {
				fmt.Printf("  %s\n", name)
			}
			return fmt.Errorf("property not found")
		}

		fmt.Printf("#%d.%s = %v\n", objID, propName, prop.Value)
		return nil
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval expression",
	Short: "Parse and evaluate a MOO expression against a loaded database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStoreFromFlags(cmd)
		if err != nil {
			return err
		}

		p := parser.NewParser(args[0])
		node, err := p.ParseExpression(0)
		if err != nil {
			return fmt.Errorf("parse error: %w", err)
		}

		evaluator := vm.NewEvaluatorWithStore(store)
		ctx := types.NewTaskContext()
		result := evaluator.Eval(node, ctx)

		if result.IsNormal() {
			fmt.Printf("=> %s\n", result.Val.String())
		} else {
			fmt.Printf("Error: %s\n", result.Error.String())
		}
		return nil
	},
}

var verbLookupCmd = &cobra.Command{
	Use:   "verb-lookup #obj:verb",
	Short: "Show which ancestor a verb would resolve to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStoreFromFlags(cmd)
		if err != nil {
			return err
		}
		objID, verbName, err := parseObjVerb(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("=== Verb Lookup: #%d:%s ===\n\n", objID, verbName)

		obj := store.Get(objID)
		if obj == nil {
			return fmt.Errorf("object #%d not found", objID)
		}
		fmt.Printf("Starting object: #%d (%s)\n", objID, obj.Name)

		verb, defObjID, err := store.FindVerb(objID, verbName)
		if err != nil {
			fmt.Printf("\nResult: NOT FOUND\n")
			fmt.Printf("Error: %v\n", err)

			fmt.Printf("\nSearch path:\n")
			current := objID
			visited := make(map[types.ObjID]bool)
			depth := 0
			for {
				if visited[current] {
					fmt.Printf("  [cycle detected at #%d]\n", current)
					break
				}
				visited[current] = true

				currentObj := store.Get(current)
				if currentObj == nil {
					fmt.Printf("  #%d (NOT FOUND)\n", current)
					break
				}

				indent := strings.Repeat("  ", depth)
				fmt.Printf("%s#%d (%s) - %d verbs\n", indent, current, currentObj.Name, len(currentObj.VerbList))

				if len(currentObj.Parents) == 0 {
					break
				}
				current = currentObj.Parents[0]
				depth++
			}
			return fmt.Errorf("verb not found")
		}

		fmt.Printf("\nResult: FOUND on #%d\n", defObjID)
		if defObjID == objID {
			fmt.Printf("  (defined directly on this object)\n")
		} else {
			fmt.Printf("  (inherited from parent)\n")

			fmt.Printf("\nInheritance chain:\n")
			current := objID
			visited := make(map[types.ObjID]bool)
			depth := 0
			for current != defObjID {
				if visited[current] {
					fmt.Printf("  [cycle detected]\n")
					break
				}
				visited[current] = true

				currentObj := store.Get(current)
				if currentObj == nil {
					fmt.Printf("  #%d (NOT FOUND)\n", current)
					break
				}

				indent := strings.Repeat("  ", depth)
				fmt.Printf("%s#%d (%s)\n", indent, current, currentObj.Name)

				if len(currentObj.Parents) == 0 {
					fmt.Printf("  [no parent, but verb is on #%d?]\n", defObjID)
					break
				}
				current = currentObj.Parents[0]
				depth++
			}

			defObj := store.Get(defObjID)
			indent := strings.Repeat("  ", depth)
			fmt.Printf("%s#%d (%s) *** VERB DEFINED HERE ***\n", indent, defObjID, defObj.Name)
		}

		fmt.Printf("\nVerb details:\n")
		fmt.Printf("  Name:    %s\n", verb.Name)
		fmt.Printf("  Names:   %s\n", strings.Join(verb.Names, " "))
		fmt.Printf("  Owner:   #%d\n", verb.Owner)
		fmt.Printf("  Perms:   %s\n", verb.Perms.String())
		fmt.Printf("  ArgSpec: %s %s %s\n", verb.ArgSpec.This, verb.ArgSpec.Prep, verb.ArgSpec.That)
		fmt.Printf("  Code:    %d lines\n", len(verb.Code))
		return nil
	},
}

var ancestryCmd = &cobra.Command{
	Use:   "ancestry #obj",
	Short: "Show the full parent chain for an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStoreFromFlags(cmd)
		if err != nil {
			return err
		}
		objID, err := parseObjID(args[0])
		if err != nil {
			return err
		}
		obj := store.Get(objID)
		if obj == nil {
			return fmt.Errorf("object #%d not found", objID)
		}

		fmt.Printf("=== Ancestry for #%d (%s) ===\n\n", objID, obj.Name)

		current := objID
		visited := make(map[types.ObjID]bool)
		depth := 0

		for {
			if visited[current] {
				fmt.Printf("%s[CYCLE DETECTED: #%d already visited]\n", strings.Repeat("  ", depth), current)
				break
			}
			visited[current] = true

			currentObj := store.Get(current)
			if currentObj == nil {
				fmt.Printf("%s#%d (NOT FOUND)\n", strings.Repeat("  ", depth), current)
				break
			}

			indent := strings.Repeat("  ", depth)
			fmt.Printf("%s#%d - %s\n", indent, current, currentObj.Name)
			fmt.Printf("%s       owner=#%d, verbs=%d, props=%d\n",
				indent, currentObj.Owner, len(currentObj.VerbList), len(currentObj.Properties))

			if len(currentObj.Parents) == 0 {
				fmt.Printf("%s       (root object - no parent)\n", indent)
				break
			}

			if len(currentObj.Parents) > 1 {
				fmt.Printf("%s       (multiple parents: ", indent)
				for i, p := range currentObj.Parents {
					if i > 0 {
						fmt.Print(", ")
					}
					fmt.Printf("#%d", p)
				}
				fmt.Println(")")
				fmt.Printf("%s       (following first parent #%d)\n", indent, currentObj.Parents[0])
			}

			current = currentObj.Parents[0]
			depth++

			if depth > 100 {
				fmt.Printf("%s[DEPTH LIMIT REACHED]\n", strings.Repeat("  ", depth))
				break
			}
		}

		fmt.Printf("\nTotal depth: %d\n", depth)
		return nil
	},
}

var findPropertyCmd = &cobra.Command{
	Use:   "find-property #obj propname",
	Short: "Walk an object's parent chain looking for where a property is defined",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStoreFromFlags(cmd)
		if err != nil {
			return err
		}
		objID, err := parseObjID(args[0])
		if err != nil {
			return err
		}
		propName := args[1]

		obj := store.Get(objID)
		if obj == nil {
			return fmt.Errorf("object #%d not found", objID)
		}

		fmt.Printf("#%d (%s)\n", objID, obj.Name)
		if prop, ok := obj.Properties[propName]; ok {
			fmt.Printf("  direct .%s = %v (clear=%v, owner=#%d)\n", propName, prop.Value, prop.Clear, prop.Owner)
		} else {
			fmt.Printf("  no direct .%s property\n", propName)
		}

		fmt.Printf("\nSearching parent chain for .%s:\n", propName)
		visited := make(map[types.ObjID]bool)
		searchPropertyChain(store, objID, propName, visited, 0)
		return nil
	},
}

func searchPropertyChain(store *db.Store, objID types.ObjID, propName string, visited map[types.ObjID]bool, depth int) {
	if visited[objID] {
		return
	}
	visited[objID] = true

	obj := store.Get(objID)
	if obj == nil {
		return
	}

	indent := strings.Repeat("  ", depth)
	fmt.Printf("%s#%d (%s):\n", indent, objID, obj.Name)

	if prop, ok := obj.Properties[propName]; ok {
		fmt.Printf("%s  .%s = %v (type: %T, clear=%v)\n", indent, propName, prop.Value, prop.Value, prop.Clear)
	}

	for _, parentID := range obj.Parents {
		searchPropertyChain(store, parentID, propName, visited, depth+1)
	}
}
