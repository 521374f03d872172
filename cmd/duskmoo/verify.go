package main

import (
	"fmt"
	"os"

	"duskmoo/db"
	"duskmoo/types"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Round-trip a database through the writer and diff the result",
	Long: `Loads a database, writes it back out through db.Writer, reloads the
written copy, and compares object counts and per-object fields between the
two, to catch encoding bugs before they reach a live checkpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("db")
		outPath, _ := cmd.Flags().GetString("out")

		fmt.Printf("Loading %s...\n", dbPath)
		database, err := db.LoadDatabase(dbPath)
		if err != nil {
			return fmt.Errorf("load database: %w", err)
		}
		store := database.NewStoreFromDatabase()

		origMax := store.MaxObject()
		origPlayers := len(store.Players())
		origAll := len(store.All())
		fmt.Printf("Loaded: maxObj=#%d, players=%d, objects=%d\n", origMax, origPlayers, origAll)

		fmt.Printf("Writing to %s...\n", outPath)
		outFile, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}

		writer := db.NewWriter(outFile, store)
		if err := writer.WriteDatabase(); err != nil {
			outFile.Close()
			return fmt.Errorf("write database: %w", err)
		}
		outFile.Close()
		fmt.Println("Write complete.")

		fmt.Printf("Reloading %s...\n", outPath)
		database2, err := db.LoadDatabase(outPath)
		if err != nil {
			return fmt.Errorf("reload database: %w", err)
		}
		store2 := database2.NewStoreFromDatabase()

		newMax := store2.MaxObject()
		newPlayers := len(store2.Players())
		newAll := len(store2.All())
		fmt.Printf("Reloaded: maxObj=#%d, players=%d, objects=%d\n", newMax, newPlayers, newAll)

		errors := 0
		if origMax != newMax {
			fmt.Printf("MISMATCH: maxObj %d vs %d\n", origMax, newMax)
			errors++
		}
		if origPlayers != newPlayers {
			fmt.Printf("MISMATCH: players %d vs %d\n", origPlayers, newPlayers)
			errors++
		}
		if origAll != newAll {
			fmt.Printf("MISMATCH: objects %d vs %d\n", origAll, newAll)
			errors++
		}

		bar := pb.StartNew(int(origMax) + 1)
		bar.SetWriter(os.Stdout)
		for id := int64(0); id <= int64(origMax); id++ {
			bar.Increment()
			obj1 := store.GetUnsafe(types.ObjID(id))
			obj2 := store2.GetUnsafe(types.ObjID(id))

			if (obj1 == nil) != (obj2 == nil) {
				fmt.Printf("MISMATCH: object #%d existence differs\n", id)
				errors++
				continue
			}
			if obj1 == nil {
				continue
			}

			if obj1.Name != obj2.Name {
				fmt.Printf("MISMATCH: #%d name %q vs %q\n", id, obj1.Name, obj2.Name)
				errors++
			}
			if obj1.Flags != obj2.Flags {
				fmt.Printf("MISMATCH: #%d flags %v vs %v\n", id, obj1.Flags, obj2.Flags)
				errors++
			}
			if obj1.Owner != obj2.Owner {
				fmt.Printf("MISMATCH: #%d owner %d vs %d\n", id, obj1.Owner, obj2.Owner)
				errors++
			}
			if len(obj1.VerbList) != len(obj2.VerbList) {
				fmt.Printf("MISMATCH: #%d verbs %d vs %d\n", id, len(obj1.VerbList), len(obj2.VerbList))
				errors++
			}
			if len(obj1.Properties) != len(obj2.Properties) {
				fmt.Printf("MISMATCH: #%d props %d vs %d\n", id, len(obj1.Properties), len(obj2.Properties))
				errors++
			}
		}
		bar.Finish()

		if errors > 0 {
			return fmt.Errorf("round-trip failed: %d mismatches", errors)
		}
		fmt.Println("SUCCESS: Round-trip test passed!")
		return nil
	},
}

func init() {
	verifyCmd.Flags().String("db", "Test.db", "Database file to test")
	verifyCmd.Flags().String("out", "test_output.db", "Output file for the re-written database")
}
