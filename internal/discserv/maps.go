package discserv

// mapType is one group of maps offered by /track
type mapType struct {
	Name string
	Maps []string
}

var mapTypes = []mapType{
	{Name: "Control", Maps: []string{"Antarctic", "Busan", "Ilios", "Lijiang", "Nepal", "Oasis", "Samoa"}},
	{Name: "Escort", Maps: []string{"Circuit", "Dorado", "Havana", "Junkertown", "Rialto", "Route 66", "Shambali", "Gibraltar"}},
	{Name: "Flashpoint", Maps: []string{"Junk City", "Suravasa"}},
	{Name: "Hybrid", Maps: []string{"Blizzard", "Eichenwalde", "Hollywood", "King's", "Midtown", "Numbani", "Paraiso"}},
	{Name: "Push", Maps: []string{"Colosseo", "Esperanca", "Queen St", "Runasapi"}},
	{Name: "Clash", Maps: []string{"Hanaoka", "Anubis"}},
}

// MapTypes lists the names of every map group, for command registration
func MapTypes() []string {
	names := make([]string, len(mapTypes))
	for i, t := range mapTypes {
		names[i] = t.Name
	}
	return names
}

func findMapType(name string) (mapType, bool) {
	for _, t := range mapTypes {
		if t.Name == name {
			return t, true
		}
	}
	return mapType{}, false
}

func knownMap(name string) bool {
	for _, t := range mapTypes {
		for _, m := range t.Maps {
			if m == name {
				return true
			}
		}
	}
	return false
}
